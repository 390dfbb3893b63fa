// Package cmds defines the command catalog of the device firmware.
//
// The codes follow the firmware header, which is authoritative over older
// host tool snapshots where read/write in parts were swapped.
package cmds

import "fmt"

// Device limits of a single command.
const (
	MaxArgs       = 10
	MaxPayloadLen = 4096
)

// Command codes.
const (
	CmdDefault       uint16 = 0x0000
	CmdUARTTest      uint16 = 0x0001
	CmdDeviceRestart uint16 = 0x0002

	CmdExtMemWrite     uint16 = 0x0010
	CmdExtMemRead      uint16 = 0x0011
	CmdExtMemPageErase uint16 = 0x0012
	CmdExtMemChipErase uint16 = 0x0013

	CmdSFSRead         uint16 = 0x0100
	CmdSFSWrite        uint16 = 0x0101
	CmdSFSReadInParts  uint16 = 0x0102
	CmdSFSWriteInParts uint16 = 0x0103
	CmdSFSLastWritten  uint16 = 0x0104

	// Unsolicited messages, never a response to a request.
	CmdAdvertisement uint16 = 0x0200
	CmdResetReason   uint16 = 0x0201
)

var commandNames = map[uint16]string{
	CmdDefault:         "DEFAULT",
	CmdUARTTest:        "UART_TEST",
	CmdDeviceRestart:   "DEVICE_RESTART",
	CmdExtMemWrite:     "EXT_MEM_WRITE",
	CmdExtMemRead:      "EXT_MEM_READ",
	CmdExtMemPageErase: "EXT_MEM_PAGE_ERASE",
	CmdExtMemChipErase: "EXT_MEM_CHIP_ERASE",
	CmdSFSRead:         "SFS_READ",
	CmdSFSWrite:        "SFS_WRITE",
	CmdSFSReadInParts:  "SFS_READ_IN_PARTS",
	CmdSFSWriteInParts: "SFS_WRITE_IN_PARTS",
	CmdSFSLastWritten:  "SFS_LAST_WRITTEN",
	CmdAdvertisement:   "ADVERTISEMENT",
	CmdResetReason:     "RESET_REASON",
}

// Name returns the symbolic name of a command code.
func Name(code uint16) string {
	if name, ok := commandNames[code]; ok {
		return name
	}
	return fmt.Sprintf("0x%04X", code)
}

// Response codes of the UART command layer.
const (
	RespNoError         uint16 = 0
	RespFWNotExist      uint16 = 1
	RespFWExist         uint16 = 2
	RespNotReadyForFOTA uint16 = 3
	RespPktCRCError     uint16 = 4
	RespFWCRCError      uint16 = 5
	RespCmdDataError    uint16 = 6
	RespCmdNotSupported uint16 = 7
)

var responseTexts = map[uint16]string{
	RespNoError:         "no error",
	RespFWNotExist:      "firmware does not exist",
	RespFWExist:         "firmware already exists",
	RespNotReadyForFOTA: "not ready for FOTA",
	RespPktCRCError:     "packet CRC error",
	RespFWCRCError:      "firmware CRC error",
	RespCmdDataError:    "command data error",
	RespCmdNotSupported: "command not supported",
}

// ResponseText describes a response code of the UART command layer.
func ResponseText(code uint16) string {
	if text, ok := responseTexts[code]; ok {
		return text
	}
	return fmt.Sprintf("response code %d", code)
}

// Simple file system status codes, reported in the command field of SFS
// responses.
const (
	SFSStatusNone            uint16 = 0
	SFSStatusDriverError     uint16 = 1
	SFSStatusFileLenMismatch uint16 = 2
	SFSStatusWrongFolder     uint16 = 3
	SFSStatusFileNotFound    uint16 = 4
	SFSStatusWearOut         uint16 = 5
	SFSStatusNoSpace         uint16 = 6
	SFSStatusCRCError        uint16 = 7
	SFSStatusReadError       uint16 = 8
)

var sfsStatusTexts = map[uint16]string{
	SFSStatusNone:            "success",
	SFSStatusDriverError:     "driver error",
	SFSStatusFileLenMismatch: "file length mismatch",
	SFSStatusWrongFolder:     "wrong folder",
	SFSStatusFileNotFound:    "file not found",
	SFSStatusWearOut:         "wear out",
	SFSStatusNoSpace:         "no space",
	SFSStatusCRCError:        "CRC error",
	SFSStatusReadError:       "read error",
}

// SFSStatusText describes an SFS status code.
func SFSStatusText(code uint16) string {
	if text, ok := sfsStatusTexts[code]; ok {
		return text
	}
	return fmt.Sprintf("sfs status %d", code)
}

// IsSFS tells if code belongs to the simple file system command group,
// whose responses carry SFS status codes.
func IsSFS(code uint16) bool {
	return code&0xff00 == CmdSFSRead&0xff00
}

// ResetReason is reported by the device after boot.
type ResetReason uint32

// Reset reasons.
const (
	ResetReasonNone ResetReason = iota
	ResetReasonResetPin
	ResetReasonWatchdog
	ResetReasonSoftReset
	ResetReasonCPULockUp
	ResetReasonDetectSignal
	ResetReasonAnaDetectSignal
	ResetReasonDebugInterface
)

var resetReasonNames = []string{
	"none",
	"reset pin",
	"watchdog",
	"soft reset",
	"cpu lock up",
	"detect signal",
	"analog detect signal",
	"debug interface",
}

// String implements fmt.Stringer.
func (r ResetReason) String() string {
	if int(r) < len(resetReasonNames) {
		return resetReasonNames[r]
	}
	return fmt.Sprintf("unknown(%d)", uint32(r))
}
