package main

import (
	"os"

	"github.com/BioHazard786/Screenlink/cmd"
	"github.com/BioHazard786/Screenlink/internal/logging"
)

func main() {
	flush := logging.Init(logging.OptionsFromEnv())
	err := cmd.Execute()
	flush()
	if err != nil {
		os.Exit(1)
	}
}
