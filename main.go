// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import "github.com/rigup-org/rigup/cmd"

func main() {
	cmd.Execute()
}
