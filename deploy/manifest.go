// Package deploy implements the deployment manifest template (spec.md §6)
// and the abstract Deployer the controller drives to stand up stage
// containers, using the placement plan and Address assignments worked out
// by the placement planner.
//
// Grounded on go.yaml.in/yaml/v2 for round-tripping the manifest (parsed to
// validate structure, templated as text so non-YAML-safe placeholder tokens
// never need escaping rules of their own).
package deploy

import (
	"fmt"
	"strconv"
	"strings"

	yaml "go.yaml.in/yaml/v2"
)

// Placeholder tokens substituted into the manifest template (spec.md §6).
const (
	TokenAppName            = "__app-name__"
	TokenStageName          = "__stage-name__"
	TokenNodeName           = "__node-name__"
	TokenImage              = "__image__"
	TokenCommand            = "__command__"
	TokenArgs               = "__args__"
	TokenWorkerPort         = "__worker-port__"
	TokenCacheServerPort    = "__cache-server-port__"
	TokenWorkerExternalPort = "__worker-external-port__"
	TokenCacheServerExtPort = "__cache-server-external-port__"
	TokenParallelism        = "__parallelism__"
	TokenExternalIP         = "__external-ip__"
	TokenHostPath           = "__host-path__"
	TokenCwd                = "__cwd__"
)

// StageManifestInput supplies one stage's values for every token in the
// deployment manifest template (spec.md §6 "Deployment manifest template").
type StageManifestInput struct {
	AppName            string
	StageName          string
	NodeName           string
	Image              string
	Command            string
	Args               []string
	WorkerPort         int
	CacheServerPort    int
	WorkerExternalPort int
	CacheServerExtPort int
	Parallelism        int
	ExternalIP         string
	HostPath           string
	Cwd                string
}

// Render substitutes every token in tmpl with in's fields, literally — no
// YAML-aware escaping, matching spec.md's "Substitution is literal."
func Render(tmpl string, in StageManifestInput) string {
	replacer := strings.NewReplacer(
		TokenAppName, in.AppName,
		TokenStageName, in.StageName,
		TokenNodeName, in.NodeName,
		TokenImage, in.Image,
		TokenCommand, in.Command,
		TokenArgs, renderArgs(in.Args),
		TokenWorkerPort, strconv.Itoa(in.WorkerPort),
		TokenCacheServerPort, strconv.Itoa(in.CacheServerPort),
		TokenWorkerExternalPort, strconv.Itoa(in.WorkerExternalPort),
		TokenCacheServerExtPort, strconv.Itoa(in.CacheServerExtPort),
		TokenParallelism, strconv.Itoa(in.Parallelism),
		TokenExternalIP, in.ExternalIP,
		TokenHostPath, in.HostPath,
		TokenCwd, in.Cwd,
	)
	return replacer.Replace(tmpl)
}

func renderArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = fmt.Sprintf("%q", a)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// ValidateYAML parses rendered (a fully-templated manifest) to confirm it is
// well-formed YAML before handing it to a Deployer. Render's substitution is
// literal text, so a placeholder value containing YAML-special characters
// (a quote, a colon) can still produce invalid output — this is the check
// that catches it before Deployer.Apply does something irreversible.
func ValidateYAML(rendered string) error {
	var doc any
	if err := yaml.Unmarshal([]byte(rendered), &doc); err != nil {
		return fmt.Errorf("deploy: rendered manifest is not valid YAML: %w", err)
	}
	return nil
}
