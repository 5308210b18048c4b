// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/contentvault/contentvault/cmd/contentvault"

func main() {
	cmd.Execute()
}
