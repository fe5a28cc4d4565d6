package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/voxd/internal/config"
	"github.com/nextlevelbuilder/voxd/pkg/protocol"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("voxd doctor")
	fmt.Printf("  Version:  %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			fmt.Printf("  Config load error: %s\n", err)
			return
		}
		cfg = config.Default()
	}

	fmt.Println()
	fmt.Println("  Credentials:")
	checkKey("LLM", cfg.LLM.APIKey)
	checkKey("Whisper API", backendKey(cfg.STT, "whisper_api"))
	checkKey("OpenAI TTS", backendKey(cfg.TTS, "openai"))
	checkKey("ElevenLabs", backendKey(cfg.TTS, "elevenlabs"))

	fmt.Println()
	fmt.Println("  Local Speech Tools:")
	checkBinary("whisper-cli")
	checkBinary("piper")
	checkBinary("edge-tts")

	fmt.Println()
	fmt.Printf("  Data dir: %s", cfg.DataDir)
	if _, err := os.Stat(cfg.DataDir); err != nil {
		fmt.Println(" (NOT FOUND, created on first run)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Printf("  Daemon:   %s", cfg.Listen)
	if client, err := dialGateway(cfg.Listen, cfg.AuthToken); err != nil {
		fmt.Println(" (not running)")
	} else {
		client.Close()
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func backendKey(fam config.FamilyConfig, id string) string {
	return fam.Backends[id]["api_key"]
}

func checkKey(name, apiKey string) {
	if len(apiKey) > 8 {
		masked := apiKey[:4] + strings.Repeat("*", len(apiKey)-8) + apiKey[len(apiKey)-4:]
		fmt.Printf("    %-12s %s\n", name+":", masked)
	} else if apiKey != "" {
		fmt.Printf("    %-12s (set)\n", name+":")
	} else {
		fmt.Printf("    %-12s (not configured)\n", name+":")
	}
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
