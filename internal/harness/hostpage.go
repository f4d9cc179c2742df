package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

var hostPageTemplate = template.Must(template.New("host").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body>
<script>var argv = {{.Argv}};</script>
<script src="{{.Src}}"></script>
</body>
</html>
`))

// writeHostPage writes a uniquely named page into dir that declares argv and
// loads the artifact at src. The returned release removes it.
func writeHostPage(dir, src string, args []string) (string, func() error, error) {
	if args == nil {
		args = []string{}
	}
	argv, err := json.Marshal(args)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode arguments: %w", err)
	}

	var buf bytes.Buffer
	err = hostPageTemplate.Execute(&buf, struct {
		Argv template.JS
		Src  string
	}{Argv: template.JS(argv), Src: src})
	if err != nil {
		return "", nil, fmt.Errorf("failed to render host page: %w", err)
	}

	file := filepath.Join(dir, "bundage_host_"+uuid.NewString()+".html")
	if err := os.WriteFile(file, buf.Bytes(), 0644); err != nil {
		return "", nil, fmt.Errorf("failed to write host page: %w", err)
	}
	release := func() error {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return file, release, nil
}
