package main

import (
	"path/filepath"

	"github.com/tilawa/recite/internal/config"
	"github.com/tilawa/recite/internal/logging"
)

func setupLog(c config.LogConfig, verbose bool) (func() error, error) {
	file := c.File
	if file == "" && environ.CacheHome != "" {
		file = filepath.Join(environ.CacheHome, "recite.log")
	}
	return logging.Setup(logging.Options{
		Level:   c.Level,
		File:    file,
		Verbose: verbose,
	})
}
