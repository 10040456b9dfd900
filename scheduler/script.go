package scheduler

import (
	"io/ioutil"

	"github.com/pkg/errors"
)

// WriteScript writes a complete, executable job script: shebang, backend
// directive preamble, then the command body.
func WriteScript(path, preamble, body string) error {
	text := "#!/bin/bash\n" + preamble + "\n" + body
	if err := ioutil.WriteFile(path, []byte(text), 0755); err != nil {
		return errors.Wrapf(err, "writing job script %s", path)
	}
	return nil
}
