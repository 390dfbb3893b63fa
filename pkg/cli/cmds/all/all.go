// Package all registers all shell commands.
package all

import (
	_ "github.com/robotalks/sfslink/pkg/cli/cmds/extmem"
	_ "github.com/robotalks/sfslink/pkg/cli/cmds/sfs"
)
