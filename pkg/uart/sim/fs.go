package sim

import (
	"encoding/binary"
	"sync"

	"github.com/robotalks/sfslink/pkg/uart/cmds"
	"github.com/robotalks/sfslink/pkg/uart/comm"
)

// Layout of the simple file store.
const (
	StartAddress uint32 = 0x80000
	HeaderLen           = 9
	MaxFileLen          = 0xFFFF

	FileStatusPartial  byte = 0x7F
	FileStatusComplete byte = 0x3F
)

// StatusError is an SFS status code reported as an error.
type StatusError uint16

// Error implements error.
func (e StatusError) Error() string {
	return cmds.SFSStatusText(uint16(e))
}

// FileHeader precedes the file data in memory.
type FileHeader struct {
	Status  byte
	FileID  uint32
	DataLen uint16
	CRC     uint16
}

func (h *FileHeader) marshal() []byte {
	buf := make([]byte, HeaderLen)
	buf[0] = h.Status
	binary.LittleEndian.PutUint32(buf[1:], h.FileID)
	binary.LittleEndian.PutUint16(buf[5:], h.DataLen)
	binary.LittleEndian.PutUint16(buf[7:], h.CRC)
	return buf
}

// FileInfo locates a file in memory.
type FileInfo struct {
	Address uint32
	Header  FileHeader
}

// End returns the address right after the file data.
func (i *FileInfo) End() uint32 {
	return i.Address + HeaderLen + uint32(i.Header.DataLen)
}

// FileStore is a log-structured file store on Memory. Files are appended
// from StartAddress and the latest version of a file id wins.
type FileStore struct {
	mem *Memory

	lock    sync.Mutex
	next    uint32
	files   map[uint32]*FileInfo
	partial map[uint32]*FileInfo
}

// NewFileStore creates an empty store on mem.
func NewFileStore(mem *Memory) *FileStore {
	fs := &FileStore{mem: mem}
	fs.Reset()
	return fs
}

// Reset forgets all files, as after a chip erase.
func (fs *FileStore) Reset() {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.next = StartAddress
	fs.files = make(map[uint32]*FileInfo)
	fs.partial = make(map[uint32]*FileInfo)
}

func (fs *FileStore) allocate(fileID uint32, size int, status byte) (*FileInfo, error) {
	if size > MaxFileLen {
		return nil, StatusError(cmds.SFSStatusFileLenMismatch)
	}
	info := &FileInfo{
		Address: fs.next,
		Header:  FileHeader{Status: status, FileID: fileID, DataLen: uint16(size)},
	}
	if int(info.End()) > fs.mem.Size() {
		return nil, StatusError(cmds.SFSStatusNoSpace)
	}
	if err := fs.mem.Write(info.Address, info.Header.marshal()); err != nil {
		return nil, StatusError(cmds.SFSStatusDriverError)
	}
	fs.next = info.End()
	return info, nil
}

func (fs *FileStore) commit(info *FileInfo) error {
	data, err := fs.mem.Read(info.Address+HeaderLen, int(info.Header.DataLen))
	if err != nil {
		return StatusError(cmds.SFSStatusDriverError)
	}
	info.Header.Status = FileStatusComplete
	info.Header.CRC = comm.Checksum(data)
	if err := fs.mem.Write(info.Address, info.Header.marshal()); err != nil {
		return StatusError(cmds.SFSStatusDriverError)
	}
	fs.files[info.Header.FileID] = info
	return nil
}

// Write stores a whole file.
func (fs *FileStore) Write(fileID uint32, data []byte) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	info, err := fs.allocate(fileID, len(data), FileStatusPartial)
	if err != nil {
		return err
	}
	if err := fs.mem.Write(info.Address+HeaderLen, data); err != nil {
		return StatusError(cmds.SFSStatusDriverError)
	}
	return fs.commit(info)
}

// WriteInParts stores the chunk of a file which still has remaining bytes
// to be written, including data. The first chunk defines the file length and
// the chunk with remaining == len(data) completes the file.
func (fs *FileStore) WriteInParts(fileID, remaining uint32, data []byte) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	info := fs.partial[fileID]
	if info == nil {
		var err error
		if info, err = fs.allocate(fileID, int(remaining), FileStatusPartial); err != nil {
			return err
		}
		fs.partial[fileID] = info
	}
	size := uint32(info.Header.DataLen)
	if remaining > size || uint32(len(data)) > remaining {
		return StatusError(cmds.SFSStatusFileLenMismatch)
	}
	addr := info.Address + HeaderLen + size - remaining
	if err := fs.mem.Write(addr, data); err != nil {
		return StatusError(cmds.SFSStatusDriverError)
	}
	if remaining == uint32(len(data)) {
		delete(fs.partial, fileID)
		return fs.commit(info)
	}
	return nil
}

// Read loads the latest complete version of a file.
func (fs *FileStore) Read(fileID uint32) (*FileInfo, []byte, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	info := fs.files[fileID]
	if info == nil {
		return nil, nil, StatusError(cmds.SFSStatusFileNotFound)
	}
	data, err := fs.mem.Read(info.Address+HeaderLen, int(info.Header.DataLen))
	if err != nil {
		return info, nil, StatusError(cmds.SFSStatusReadError)
	}
	if comm.Checksum(data) != info.Header.CRC {
		return info, data, StatusError(cmds.SFSStatusCRCError)
	}
	return info, data, nil
}

// ReadInParts reads n bytes of a file which still has remaining bytes to be
// read.
func (fs *FileStore) ReadInParts(fileID, remaining uint32, n int) ([]byte, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	info := fs.files[fileID]
	if info == nil {
		return nil, StatusError(cmds.SFSStatusFileNotFound)
	}
	size := uint32(info.Header.DataLen)
	if remaining > size || uint32(n) > remaining {
		return nil, StatusError(cmds.SFSStatusReadError)
	}
	data, err := fs.mem.Read(info.Address+HeaderLen+size-remaining, n)
	if err != nil {
		return nil, StatusError(cmds.SFSStatusReadError)
	}
	return data, nil
}

// LastWritten returns the location of the latest complete version of a file.
func (fs *FileStore) LastWritten(fileID uint32) (*FileInfo, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	if info := fs.files[fileID]; info != nil {
		found := *info
		return &found, nil
	}
	return nil, StatusError(cmds.SFSStatusFileNotFound)
}
