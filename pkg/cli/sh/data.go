package sh

import (
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"
)

// LoadData loads the data argument at index. It's one of
//
//	rand:N    N random uppercase letters
//	hex:HEX   hex encoded bytes
//	PATH      content of a local file
func LoadData(c *ishell.Context, index int) ([]byte, bool) {
	if index >= len(c.Args) {
		Fail(c, fmt.Errorf("DATA required"))
		return nil, false
	}
	data, err := parseData(c.Args[index])
	if err != nil {
		Fail(c, err)
		return nil, false
	}
	return data, true
}

func parseData(arg string) ([]byte, error) {
	switch {
	case strings.HasPrefix(arg, "rand:"):
		n, err := strconv.Atoi(arg[5:])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid length in %q", arg)
		}
		data := make([]byte, n)
		for i := range data {
			data[i] = byte('A' + rand.Intn(26))
		}
		return data, nil
	case strings.HasPrefix(arg, "hex:"):
		return hex.DecodeString(arg[4:])
	default:
		return os.ReadFile(arg)
	}
}

// SaveData writes data to the optional output path at index, or prints a
// hex dump.
func SaveData(c *ishell.Context, index int, data []byte) {
	if index < len(c.Args) {
		if err := os.WriteFile(c.Args[index], data, 0644); err != nil {
			Fail(c, err)
			return
		}
		Print(c, map[string]interface{}{"file": c.Args[index], "length": len(data)},
			fmt.Sprintf("%d bytes saved to %s", len(data), c.Args[index]))
		return
	}
	Print(c, map[string]interface{}{"length": len(data), "data": hex.EncodeToString(data)}, hex.Dump(data))
}
