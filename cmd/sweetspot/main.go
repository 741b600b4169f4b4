package main

import (
	"os"

	"github.com/spherical/sweetspot/cmd/sweetspot/commands"
	"github.com/spherical/sweetspot/cmd/sweetspot/ui"
	"github.com/spherical/sweetspot/internal/domain"
)

func main() {
	if err := commands.Execute(); err != nil {
		if domain.IsType(err, domain.ErrorTypeValidation) {
			ui.Error("%v", err)
		} else {
			ui.ErrorBox(err.Error(), commands.LogPath())
		}
		os.Exit(1)
	}
}
