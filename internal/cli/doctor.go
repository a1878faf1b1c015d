package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voicewire/voicewire/pkg/audio"
	"github.com/voicewire/voicewire/pkg/convlog"
)

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	var probeMic bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			ok := true
			check := func(name string, passed bool, detail string) {
				mark := "ok"
				if !passed {
					mark = "FAIL"
					ok = false
				}
				fmt.Printf("%-24s [%s] %s\n", name, mark, detail)
			}

			cfg := deps.Config
			frameMs := cfg.Audio.FrameSamples * 1000 / cfg.Audio.TargetSampleRate
			check("Config", true, fmt.Sprintf("%d Hz wire, %dms frames", cfg.Audio.TargetSampleRate, frameMs))
			check("Session identity", true, deps.SessionID)

			if status, err := deps.Backend.Health(cmd.Context()); err != nil {
				check("Backend", false, fmt.Sprintf("%s unreachable: %v", cfg.Backend.URL, err))
			} else {
				check("Backend", true, fmt.Sprintf("%s (%s)", cfg.Backend.URL, status))
			}

			logDir := cfg.Session.LogDir
			if logDir == "" {
				var err error
				logDir, err = convlog.DefaultDir()
				if err != nil {
					check("Conversation log", false, err.Error())
					logDir = ""
				}
			}
			if logDir != "" {
				if err := os.MkdirAll(logDir, 0o755); err != nil {
					check("Conversation log", false, fmt.Sprintf("%s not writable: %v", logDir, err))
				} else {
					check("Conversation log", true, logDir)
				}
			}

			if probeMic {
				capture, err := audio.OpenCapture(audio.CaptureConfig{
					NativeRate:   cfg.Audio.NativeSampleRate,
					FrameSamples: cfg.Audio.FrameSamples,
				}, func([]float32, int) {}, deps.Logger)
				if err != nil {
					check("Microphone", false, err.Error())
				} else {
					capture.Close()
					check("Microphone", true, fmt.Sprintf("%d Hz native", cfg.Audio.NativeSampleRate))
				}
			} else {
				check("Microphone", true, "not probed (use --probe-mic)")
			}

			if ok {
				fmt.Println("\nAll prerequisites met.")
				return nil
			}
			fmt.Println("\nSome prerequisites are missing.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&probeMic, "probe-mic", false, "Open and close the microphone to verify access")

	return cmd
}
