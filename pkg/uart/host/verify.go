package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// TestResult is the outcome of one iteration of a verification loop.
type TestResult struct {
	Iteration int
	Elapsed   time.Duration
	Length    int
	Region    Region
	Err       error
}

// Reporter receives the result of each iteration.
type Reporter func(TestResult)

// TransferTestArgs are the arguments carried by loopback test requests.
var TransferTestArgs = []uint32{100, 200, 100, 200}

// randomPayload fills n bytes with uppercase letters.
func randomPayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte('A' + rand.Intn(26))
	}
	return data
}

// recoverable tells whether a verification loop continues after err.
func recoverable(err error) bool {
	var devErr *DeviceError
	return errors.Is(err, ErrMismatch) || errors.As(err, &devErr)
}

// TransferTest runs iterations of loopback requests with random payloads.
// Mismatches and device errors are counted as failures, other errors abort.
func (c *Client) TransferTest(ctx context.Context, iterations, payloadLen int, report Reporter) (int, error) {
	failures := 0
	for i := 0; i < iterations; i++ {
		elapsed, err := c.UARTTest(ctx, TransferTestArgs, randomPayload(payloadLen))
		if report != nil {
			report(TestResult{Iteration: i, Elapsed: elapsed, Length: payloadLen, Err: err})
		}
		if err != nil {
			if !recoverable(err) {
				return failures, err
			}
			failures++
		}
	}
	return failures, nil
}

// FileTest writes files of growing length, starting from baseLen, reads
// them back and compares content and reported regions. inParts selects the
// chunked operations instead of the whole-file ones.
func (c *Client) FileTest(ctx context.Context, fileID uint32, baseLen, iterations int, inParts bool, report Reporter) (int, error) {
	failures := 0
	for i := 0; i < iterations; i++ {
		start := time.Now()
		length := baseLen + i
		region, err := c.verifyFile(ctx, fileID, randomPayload(length), inParts)
		if report != nil {
			report(TestResult{Iteration: i, Elapsed: time.Since(start), Length: length, Region: region, Err: err})
		}
		if err != nil {
			if !recoverable(err) {
				return failures, err
			}
			failures++
		}
	}
	return failures, nil
}

func (c *Client) verifyFile(ctx context.Context, fileID uint32, data []byte, inParts bool) (Region, error) {
	var written, read Region
	var content []byte
	if inParts {
		var err error
		if written, err = c.WriteInParts(ctx, fileID, data); err != nil {
			return written, err
		}
		if content, read, err = c.ReadInParts(ctx, fileID, len(data)); err != nil {
			return written, err
		}
	} else {
		info, err := c.WriteFile(ctx, fileID, data)
		if err != nil {
			return written, err
		}
		written = info.Region()
		if content, info, err = c.ReadFile(ctx, fileID); err != nil {
			return written, err
		}
		read = info.Region()
	}
	if written != read {
		return written, fmt.Errorf("%w: written at %s, read from %s", ErrMismatch, written, read)
	}
	if !bytes.Equal(content, data) {
		return written, fmt.Errorf("%w: file %d content differs", ErrMismatch, fileID)
	}
	return written, nil
}
