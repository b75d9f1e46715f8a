package deploy

import (
	"strings"
	"testing"
)

const sampleTemplate = `
apiVersion: v1
kind: Pod
metadata:
  name: __app-name__-__stage-name__
spec:
  nodeName: __node-name__
  containers:
    - name: __stage-name__
      image: __image__
      command: [__command__]
      args: __args__
      ports:
        - containerPort: __worker-port__
        - containerPort: __cache-server-port__
  volumes:
    - name: data
      hostPath:
        path: __host-path__
`

func TestRenderSubstitutesAllTokens(t *testing.T) {
	in := StageManifestInput{
		AppName:   "wordcount",
		StageName: "split",
		NodeName:  "node-1",
		Image:     "flowmesh/split:latest",
		Command:   "/bin/worker",
		Args:      []string{"--stage", "split"},
		WorkerPort:      8080,
		CacheServerPort: 8081,
		HostPath:        "/var/lib/flowmesh",
	}
	rendered := Render(sampleTemplate, in)

	if err := ValidateYAML(rendered); err != nil {
		t.Fatalf("expected valid YAML, got %v", err)
	}

	for _, tok := range []string{
		TokenAppName, TokenStageName, TokenNodeName, TokenImage, TokenCommand,
		TokenArgs, TokenWorkerPort, TokenCacheServerPort, TokenHostPath,
	} {
		if strings.Contains(rendered, tok) {
			t.Fatalf("expected token %s to be substituted, still present in output", tok)
		}
	}
	if !strings.Contains(rendered, "wordcount-split") {
		t.Fatalf("expected app/stage substitution in output:\n%s", rendered)
	}
}
