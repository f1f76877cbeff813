// SPDX-License-Identifier: AGPL-3.0-or-later
package types

// RetryPolicy bounds automatic retries for a unit's install action.
type RetryPolicy struct {
	MaxAttempts    int  `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	BackoffSeconds int  `yaml:"backoff_seconds,omitempty" json:"backoff_seconds,omitempty"`
	Interactive    bool `yaml:"interactive,omitempty" json:"interactive,omitempty"`
}

// CredentialRule maps a download host to an environment-supplied token.
// Rules are matched against a URL's hostname in declaration order; the
// first match wins.
type CredentialRule struct {
	Host     string `yaml:"host" json:"host"`
	Env      string `yaml:"env" json:"env"`
	ProbeURL string `yaml:"probe_url,omitempty" json:"probe_url,omitempty"`
}

// FileSpec describes one artifact to download. When Filename is empty the
// name is derived from the URL path.
type FileSpec struct {
	URL      string `yaml:"url" json:"url"`
	Filename string `yaml:"filename,omitempty" json:"filename,omitempty"`
}

// GatedFiles selects between a licensed file set and an open fallback set
// based on whether the token for Probe's credential rule validates.
type GatedFiles struct {
	Probe    string     `yaml:"probe" json:"probe"`
	Files    []FileSpec `yaml:"files" json:"files"`
	Fallback []FileSpec `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// DownloadSet is a batch of files fetched into one destination directory.
type DownloadSet struct {
	Dest  string      `yaml:"dest" json:"dest"`
	Files []FileSpec  `yaml:"files,omitempty" json:"files,omitempty"`
	Gated *GatedFiles `yaml:"gated,omitempty" json:"gated,omitempty"`
}

// CommandAction shells out to an external collaborator tool. Only the exit
// status is observed.
type CommandAction struct {
	Command []string          `yaml:"command" json:"command"`
	Dir     string            `yaml:"dir,omitempty" json:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// PresenceCheck decides whether a unit is already installed. Exactly one
// field is set: Path tests existence under the workspace, Command is
// considered satisfied when the process exits zero. Checks are
// side-effect-free; a check that itself errors counts as "not present".
type PresenceCheck struct {
	Path    string   `yaml:"path,omitempty" json:"path,omitempty"`
	Command []string `yaml:"command,omitempty" json:"command,omitempty"`
}

// Unit is one installable component. Constructed at manifest load, never
// mutated afterwards, consumed exactly once per run.
type Unit struct {
	Name     string         `yaml:"name" json:"name"`
	Check    *PresenceCheck `yaml:"check,omitempty" json:"check,omitempty"`
	Run      *CommandAction `yaml:"run,omitempty" json:"run,omitempty"`
	Download *DownloadSet   `yaml:"download,omitempty" json:"download,omitempty"`
	Update   *CommandAction `yaml:"update,omitempty" json:"update,omitempty"`
	Retry    *RetryPolicy   `yaml:"retry,omitempty" json:"retry,omitempty"`
	Disabled bool           `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// Kind reports the action flavour of the unit.
func (u *Unit) Kind() string {
	if u.Download != nil {
		return "download"
	}
	return "run"
}

// Manifest is the full provisioning declaration for a machine.
type Manifest struct {
	Workspace   string           `yaml:"workspace,omitempty" json:"workspace,omitempty"`
	AutoUpdate  bool             `yaml:"auto_update,omitempty" json:"auto_update,omitempty"`
	Concurrency int              `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
	Retry       RetryPolicy      `yaml:"retry,omitempty" json:"retry,omitempty"`
	Credentials []CredentialRule `yaml:"credentials,omitempty" json:"credentials,omitempty"`
	Units       []Unit           `yaml:"units" json:"units"`
}

// UnitNames returns the unit names in declaration order.
func (m *Manifest) UnitNames() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.Units))
	for i := range m.Units {
		out = append(out, m.Units[i].Name)
	}
	return out
}

// PolicyFor resolves the effective retry policy for a unit: the unit
// override when present, else the manifest default.
func (m *Manifest) PolicyFor(u *Unit) RetryPolicy {
	if u != nil && u.Retry != nil {
		p := *u.Retry
		if p.MaxAttempts <= 0 {
			p.MaxAttempts = m.Retry.MaxAttempts
		}
		if p.BackoffSeconds <= 0 {
			p.BackoffSeconds = m.Retry.BackoffSeconds
		}
		return p
	}
	return m.Retry
}
