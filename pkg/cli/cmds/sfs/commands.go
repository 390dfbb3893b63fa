package sfs

import (
	"context"
	"fmt"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/sfslink/pkg/cli/sh"
	"github.com/robotalks/sfslink/pkg/uart/host"
)

// Defaults of the verification loops.
const (
	DefaultTestFileID      = 0x10001
	DefaultTestIterations  = 300
	DefaultFileTestLen     = 2000
	DefaultPartsTestLen    = 10000
	DefaultUARTIterations  = 100
	DefaultUARTTestPayload = 500
)

func fileInfoText(verb string, info *host.FileInfo) string {
	return fmt.Sprintf("%s file %d: %d bytes at %s status 0x%x",
		verb, info.FileID, info.DataLen, info.Region(), info.Status)
}

func reportResult(c *ishell.Context) host.Reporter {
	return func(r host.TestResult) {
		if sh.ShellFrom(c).OutputJSON {
			var errText string
			if r.Err != nil {
				errText = r.Err.Error()
			}
			sh.Print(c, map[string]interface{}{
				"iteration": r.Iteration,
				"elapsed":   r.Elapsed.Seconds(),
				"length":    r.Length,
				"start":     r.Region.Start,
				"end":       r.Region.End,
				"error":     errText,
			}, "")
			return
		}
		if r.Err != nil {
			c.Printf("%d: FAIL len %d: %v\n", r.Iteration, r.Length, r.Err)
			return
		}
		if r.Region != (host.Region{}) {
			c.Printf("%d: OK len %d at %s %v\n", r.Iteration, r.Length, r.Region, r.Elapsed)
			return
		}
		c.Printf("%d: OK round trip %v\n", r.Iteration, r.Elapsed)
	}
}

func summarize(c *ishell.Context, iterations, failures int, err error) {
	if err != nil {
		sh.Fail(c, err)
		return
	}
	if failures > 0 {
		sh.Fail(c, fmt.Errorf("%d of %d iterations failed", failures, iterations))
		return
	}
	if !sh.ShellFrom(c).OutputJSON {
		c.Printf("%d iterations passed\n", iterations)
	}
}

func fileTest(inParts bool, defLen int) func(*ishell.Context) {
	return sh.MustBeConnected(func(c *ishell.Context, ctx context.Context, client *host.Client) {
		iterations, ok := sh.OptionalInt(c, 0, "ITERATIONS", DefaultTestIterations)
		if !ok {
			return
		}
		length, ok := sh.OptionalInt(c, 1, "LEN", defLen)
		if !ok {
			return
		}
		fileID := uint32(DefaultTestFileID)
		if len(c.Args) > 2 {
			if fileID, ok = sh.ParseUint32(c, 2, "FILE-ID"); !ok {
				return
			}
		}
		failures, err := client.FileTest(ctx, fileID, length, iterations, inParts, reportResult(c))
		summarize(c, iterations, failures, err)
	})
}

var (
	// ReadCmd reads a whole file.
	ReadCmd = ishell.Cmd{
		Name:    "sfs.read",
		Aliases: []string{"fr"},
		Help:    "FILE-ID [OUTFILE]",
		Func: sh.MustBeConnected(func(c *ishell.Context, ctx context.Context, client *host.Client) {
			fileID, ok := sh.ParseUint32(c, 0, "FILE-ID")
			if !ok {
				return
			}
			data, info, err := client.ReadFile(ctx, fileID)
			if err != nil {
				sh.Fail(c, err)
				return
			}
			if !sh.ShellFrom(c).OutputJSON {
				c.Println(fileInfoText("read", info))
			}
			sh.SaveData(c, 1, data)
		}),
	}

	// WriteCmd writes a whole file.
	WriteCmd = ishell.Cmd{
		Name:    "sfs.write",
		Aliases: []string{"fw"},
		Help:    "FILE-ID DATA",
		Func: sh.MustBeConnected(func(c *ishell.Context, ctx context.Context, client *host.Client) {
			fileID, ok := sh.ParseUint32(c, 0, "FILE-ID")
			if !ok {
				return
			}
			data, ok := sh.LoadData(c, 1)
			if !ok {
				return
			}
			info, err := client.WriteFile(ctx, fileID, data)
			if err != nil {
				sh.Fail(c, err)
				return
			}
			sh.Print(c, info, fileInfoText("wrote", info))
		}),
	}

	// LastWrittenCmd queries the last written copy of a file.
	LastWrittenCmd = ishell.Cmd{
		Name: "sfs.last",
		Help: "FILE-ID",
		Func: sh.MustBeConnected(func(c *ishell.Context, ctx context.Context, client *host.Client) {
			fileID, ok := sh.ParseUint32(c, 0, "FILE-ID")
			if !ok {
				return
			}
			info, err := client.LastWritten(ctx, fileID)
			if err != nil {
				sh.Fail(c, err)
				return
			}
			sh.Print(c, info, fileInfoText("last written", info))
		}),
	}

	// ReadInPartsCmd reads a file in chunks.
	ReadInPartsCmd = ishell.Cmd{
		Name: "sfs.read-parts",
		Help: "FILE-ID LEN [OUTFILE]",
		Func: sh.MustBeConnected(func(c *ishell.Context, ctx context.Context, client *host.Client) {
			fileID, ok := sh.ParseUint32(c, 0, "FILE-ID")
			if !ok {
				return
			}
			length, ok := sh.ParseUint32(c, 1, "LEN")
			if !ok {
				return
			}
			data, region, err := client.ReadInParts(ctx, fileID, int(length))
			if err != nil {
				if len(data) > 0 {
					c.Printf("%d of %d bytes read\n", len(data), length)
				}
				sh.Fail(c, err)
				return
			}
			if !sh.ShellFrom(c).OutputJSON {
				c.Printf("read file %d at %s\n", fileID, region)
			}
			sh.SaveData(c, 2, data)
		}),
	}

	// WriteInPartsCmd writes a file in chunks.
	WriteInPartsCmd = ishell.Cmd{
		Name: "sfs.write-parts",
		Help: "FILE-ID DATA",
		Func: sh.MustBeConnected(func(c *ishell.Context, ctx context.Context, client *host.Client) {
			fileID, ok := sh.ParseUint32(c, 0, "FILE-ID")
			if !ok {
				return
			}
			data, ok := sh.LoadData(c, 1)
			if !ok {
				return
			}
			region, err := client.WriteInParts(ctx, fileID, data)
			if err != nil {
				sh.Fail(c, err)
				return
			}
			sh.Print(c, map[string]interface{}{"file_id": fileID, "length": len(data), "start": region.Start, "end": region.End},
				fmt.Sprintf("wrote file %d: %d bytes at %s", fileID, len(data), region))
		}),
	}

	// FileTestCmd runs the whole-file verification loop.
	FileTestCmd = ishell.Cmd{
		Name: "sfs.test",
		Help: "[ITERATIONS] [LEN] [FILE-ID]",
		Func: fileTest(false, DefaultFileTestLen),
	}

	// FileTestInPartsCmd runs the in-parts verification loop.
	FileTestInPartsCmd = ishell.Cmd{
		Name: "sfs.test-parts",
		Help: "[ITERATIONS] [LEN] [FILE-ID]",
		Func: fileTest(true, DefaultPartsTestLen),
	}

	// UARTTestCmd runs the loopback test.
	UARTTestCmd = ishell.Cmd{
		Name:    "uart.test",
		Aliases: []string{"ping"},
		Help:    "[ITERATIONS] [LEN]",
		Func: sh.MustBeConnected(func(c *ishell.Context, ctx context.Context, client *host.Client) {
			iterations, ok := sh.OptionalInt(c, 0, "ITERATIONS", DefaultUARTIterations)
			if !ok {
				return
			}
			length, ok := sh.OptionalInt(c, 1, "LEN", DefaultUARTTestPayload)
			if !ok {
				return
			}
			failures, err := client.TransferTest(ctx, iterations, length, reportResult(c))
			summarize(c, iterations, failures, err)
		}),
	}
)

func init() {
	sh.AddCmds(
		&ReadCmd,
		&WriteCmd,
		&LastWrittenCmd,
		&ReadInPartsCmd,
		&WriteInPartsCmd,
		&FileTestCmd,
		&FileTestInPartsCmd,
		&UARTTestCmd,
	)
}
