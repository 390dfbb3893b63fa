package extmem

import (
	"context"
	"fmt"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/sfslink/pkg/cli/sh"
	"github.com/robotalks/sfslink/pkg/uart/host"
)

// Address and length dumped by ext.check.
const (
	CheckAddress = 0x2ffdc
	CheckLength  = 500
)

var (
	// ReadCmd reads external memory.
	ReadCmd = ishell.Cmd{
		Name:    "ext.read",
		Aliases: []string{"xr"},
		Help:    "ADDR LEN [OUTFILE]",
		Func: sh.MustBeConnected(func(c *ishell.Context, ctx context.Context, client *host.Client) {
			addr, ok := sh.ParseUint32(c, 0, "ADDR")
			if !ok {
				return
			}
			n, ok := sh.ParseUint32(c, 1, "LEN")
			if !ok {
				return
			}
			data, err := client.ExtMemRead(ctx, addr, int(n))
			if err != nil {
				sh.Fail(c, err)
				return
			}
			sh.SaveData(c, 2, data)
		}),
	}

	// WriteCmd writes external memory.
	WriteCmd = ishell.Cmd{
		Name:    "ext.write",
		Aliases: []string{"xw"},
		Help:    "ADDR DATA",
		Func: sh.MustBeConnected(func(c *ishell.Context, ctx context.Context, client *host.Client) {
			addr, ok := sh.ParseUint32(c, 0, "ADDR")
			if !ok {
				return
			}
			data, ok := sh.LoadData(c, 1)
			if !ok {
				return
			}
			if err := client.ExtMemWrite(ctx, addr, data); err != nil {
				sh.Fail(c, err)
				return
			}
			sh.Print(c, map[string]interface{}{"address": addr, "length": len(data)},
				fmt.Sprintf("%d bytes written at 0x%x", len(data), addr))
		}),
	}

	// EnsureCmd writes external memory only if the content differs, and
	// verifies the result.
	EnsureCmd = ishell.Cmd{
		Name: "ext.ensure",
		Help: "ADDR DATA",
		Func: sh.MustBeConnected(func(c *ishell.Context, ctx context.Context, client *host.Client) {
			addr, ok := sh.ParseUint32(c, 0, "ADDR")
			if !ok {
				return
			}
			data, ok := sh.LoadData(c, 1)
			if !ok {
				return
			}
			written, err := client.ExtMemEnsure(ctx, addr, data)
			if err != nil {
				sh.Fail(c, err)
				return
			}
			text := fmt.Sprintf("data verified at 0x%x", addr)
			if written {
				text = fmt.Sprintf("data written at 0x%x", addr)
			}
			sh.Print(c, map[string]interface{}{"address": addr, "written": written}, text)
		}),
	}

	// PageEraseCmd erases the page containing an address.
	PageEraseCmd = ishell.Cmd{
		Name: "ext.erase",
		Help: "ADDR",
		Func: sh.MustBeConnected(func(c *ishell.Context, ctx context.Context, client *host.Client) {
			addr, ok := sh.ParseUint32(c, 0, "ADDR")
			if !ok {
				return
			}
			if err := client.ExtMemPageErase(ctx, addr); err != nil {
				sh.Fail(c, err)
				return
			}
			sh.Print(c, map[string]interface{}{"address": addr}, "OK")
		}),
	}

	// ChipEraseCmd erases the whole chip.
	ChipEraseCmd = ishell.Cmd{
		Name: "ext.chip-erase",
		Help: "",
		Func: sh.MustBeConnected(func(c *ishell.Context, ctx context.Context, client *host.Client) {
			if err := client.ExtMemChipErase(ctx); err != nil {
				sh.Fail(c, err)
				return
			}
			sh.Print(c, map[string]bool{"erased": true}, "memory chip erased")
		}),
	}

	// CheckCmd dumps a fixed window of external memory.
	CheckCmd = ishell.Cmd{
		Name: "ext.check",
		Help: "[OUTFILE]",
		Func: sh.MustBeConnected(func(c *ishell.Context, ctx context.Context, client *host.Client) {
			data, err := client.ExtMemRead(ctx, CheckAddress, CheckLength)
			if err != nil {
				sh.Fail(c, err)
				return
			}
			sh.SaveData(c, 0, data)
		}),
	}
)

func init() {
	sh.AddCmds(
		&ReadCmd,
		&WriteCmd,
		&EnsureCmd,
		&PageEraseCmd,
		&ChipEraseCmd,
		&CheckCmd,
	)
}
