// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const starterManifest = `# rigup provisioning manifest
# workspace defaults to ~/workspace; override here or via RIGUP_WORKSPACE
auto_update: false
concurrency: 3

retry:
  max_attempts: 3
  backoff_seconds: 5
  interactive: true

credentials:
  - host: huggingface.co
    env: HF_TOKEN
    probe_url: https://huggingface.co/api/whoami-v2
  - host: civitai.com
    env: CIVITAI_TOKEN

units:
  - name: comfyui
    check:
      path: ComfyUI
    run:
      command: ["git", "clone", "https://github.com/comfyanonymous/ComfyUI.git"]
    update:
      command: ["git", "-C", "ComfyUI", "pull"]

  - name: base-models
    download:
      dest: ComfyUI/models/checkpoints
      files:
        - url: https://example.com/models/base.safetensors
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter rigup.yaml in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		const path = "rigup.yaml"
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, not overwriting", path)
		}
		if err := os.WriteFile(path, []byte(starterManifest), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Printf("[OK] wrote %s\n", path)
		return nil
	},
}
