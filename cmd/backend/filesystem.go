package backend

import (
	"os"

	"github.com/spf13/afero"
)

// OS is the Environment of the running process
type OS struct {
	fs afero.Fs
}

func (o *OS) FileSystem() afero.Fs {
	if o.fs == nil {
		o.fs = afero.NewOsFs()
	}
	return o.fs
}

func (o *OS) HomeDir() (string, error) {
	return os.UserHomeDir()
}

func (o *OS) Getwd() (string, error) {
	return os.Getwd()
}
