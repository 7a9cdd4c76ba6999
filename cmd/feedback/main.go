package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rojolang/feedback-sdk-go/pkg/feedback"
	"github.com/spf13/cobra"
)

var (
	verbose  bool
	logFile  string
	duration time.Duration
	name     string
	yes      bool
	preview  bool
	local    string
	startAt  time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "feedback",
		Short: "Voice feedback CLI",
		Long:  "Record, upload and play back per-student voice feedback",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config := feedback.DefaultLogConfig()
			if level, ok := feedback.ParseLogLevel(os.Getenv("FEEDBACK_LOG_LEVEL")); ok {
				config.Level = level
			}
			if verbose {
				config.Level = feedback.DebugLevel
			}
			if logFile == "" {
				logFile = os.Getenv("FEEDBACK_LOG_FILE")
			}
			config.File = logFile
			feedback.SetGlobalLogger(feedback.NewFeedbackLogger(config))
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write rotated JSON logs to this file")

	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(playCmd())
	rootCmd.AddCommand(linkCmd())
	rootCmd.AddCommand(setupCmd())
	rootCmd.AddCommand(devicesCmd())

	if err := rootCmd.Execute(); err != nil {
		feedback.GetGlobalLogger().WithError(err).Fatal("CLI execution failed")
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newClient(ctx context.Context) (*feedback.FeedbackClient, error) {
	config := feedback.NewFeedbackConfig()
	client, err := feedback.NewDefaultFeedbackClient(ctx, config, nil)
	if err != nil {
		return nil, err
	}
	client.AddErrorHandler(func(err *feedback.FeedbackError) {
		feedback.GetGlobalLogger().WithField("code", err.Code).Debug("Client error")
	})
	return client, nil
}

func recordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record <student-id>",
		Short: "Record feedback for a student",
		Long:  "Record from the microphone, optionally preview, then upload the clip for a student",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			studentID := args[0]
			if err := feedback.ValidateStudentID(studentID); err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			client, err := newClient(ctx)
			if err != nil {
				return err
			}
			defer client.Cleanup()

			fmt.Printf("Recording for %s (Ctrl+C to stop early)...\n", duration)
			stop := client.Recorder().AddStateHandler(feedback.CreateCaptureStateLogger(nil))
			defer stop()

			// Ctrl+C ends the take early; the clip is kept.
			artifact, err := client.RecordFor(ctx, duration)
			if err != nil {
				fmt.Println(feedback.UserMessage(err))
				return err
			}
			fmt.Printf("Recorded %s (%d bytes, %s)\n",
				feedback.FormatTime(float64(artifact.ElapsedSeconds)), artifact.Size(), artifact.MimeType)

			if preview {
				if err := client.PreviewRecording(context.Background()); err != nil {
					return err
				}
				client.Player().AddProgressHandler(feedback.CreateProgressPrinter(os.Stdout, 30))
				if err := client.PlayToEnd(context.Background()); err != nil {
					return err
				}
				fmt.Println()
			}

			if !yes && !confirm(fmt.Sprintf("Upload feedback for %s?", studentID)) {
				_ = client.DiscardRecording()
				fmt.Println("Recording discarded")
				return nil
			}

			record, err := uploadWithRetry(client, studentID)
			if err != nil {
				return err
			}
			fmt.Printf("Uploaded %s (%d bytes)\n", record.Key, record.Size)

			link, err := client.FeedbackLink(studentID, name)
			if err != nil {
				return err
			}
			fmt.Printf("Feedback link: %s\n", link)
			return nil
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 30*time.Second, "Recording length")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Student display name for the link")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Upload without asking")
	cmd.Flags().BoolVar(&preview, "preview", false, "Play the recording before uploading")
	return cmd
}

// uploadWithRetry keeps the take while the user retries a failed upload.
func uploadWithRetry(client *feedback.FeedbackClient, studentID string) (*feedback.FeedbackRecord, error) {
	for {
		record, err := client.ConfirmUpload(context.Background(), studentID)
		if err == nil {
			return record, nil
		}
		fmt.Println(feedback.UserMessage(err))
		if client.Recorder().State() != feedback.CaptureStopped || !confirm("Retry upload?") {
			return nil, err
		}
	}
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func playCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play [student-id]",
		Short: "Play a student's feedback",
		Long:  "Play the stored clip for a student, or a local WAV file with --local",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			if local != "" {
				return playLocal(ctx, local)
			}
			if len(args) == 0 {
				return fmt.Errorf("student id required without --local")
			}

			client, err := newClient(ctx)
			if err != nil {
				return err
			}
			defer client.Cleanup()

			displayName := name
			if displayName == "" {
				displayName = client.Config().DefaultDisplayName
			}
			fmt.Printf("Hi %s, here is your feedback\n", displayName)

			record, err := client.OpenFeedback(ctx, args[0])
			if err != nil {
				fmt.Println(feedback.UserMessage(err))
				return err
			}
			feedback.GetGlobalLogger().WithField("key", record.Key).Debug("Playing feedback")
			if err := seekStart(client.Player()); err != nil {
				return err
			}

			client.Player().AddProgressHandler(feedback.CreateProgressPrinter(os.Stdout, 30))
			err = client.PlayToEnd(ctx)
			fmt.Println()
			if err != nil && ctx.Err() == nil {
				fmt.Println(feedback.UserMessage(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&local, "local", "", "Play a local WAV file instead")
	cmd.Flags().DurationVar(&startAt, "from", 0, "Start playback at this offset")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name to greet")
	return cmd
}

func playLocal(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	handles := feedback.NewHandleStore()
	element := feedback.NewPortAudioElement(handles, nil, feedback.NewAudioConfig())
	player := feedback.NewPlaybackController(element, handles, nil)
	defer player.Close()

	handle := handles.Create(feedback.NewAudioArtifact(data, feedback.MimeTypeForExtension(path[strings.LastIndex(path, ".")+1:])))
	if err := player.SetSource(ctx, feedback.LocalSource(handle)); err != nil {
		return err
	}

	if err := seekStart(player); err != nil {
		return err
	}

	ended := make(chan struct{}, 1)
	player.AddStateHandler(feedback.CreatePlaybackStateFilter(feedback.PlaybackEnded, func() { ended <- struct{}{} }))
	player.AddProgressHandler(feedback.CreateProgressPrinter(os.Stdout, 30))
	if err := player.TogglePlay(ctx); err != nil {
		return err
	}
	select {
	case <-ended:
	case <-ctx.Done():
	}
	fmt.Println()
	return nil
}

func seekStart(player *feedback.PlaybackController) error {
	if startAt <= 0 {
		return nil
	}
	if err := player.SeekSeconds(startAt.Seconds()); err != nil {
		fmt.Println(feedback.UserMessage(err))
		return err
	}
	return nil
}

func linkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link <student-id>",
		Short: "Print the public feedback link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := feedback.NewFeedbackConfig()
			link, err := feedback.BuildFeedbackURL(config.BaseURL, args[0], name)
			if err != nil {
				return err
			}
			fmt.Println(link)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Student display name")
	return cmd
}

func setupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Setup and configuration commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		Long:  "Display the configuration read from FEEDBACK_* variables and .env",
		Run: func(cmd *cobra.Command, args []string) {
			config := feedback.NewFeedbackConfig()
			config.PrintConfig(os.Stdout)

			audioConfig := feedback.NewAudioConfig()
			fmt.Println("\nDefault Audio Config:")
			fmt.Printf("  Sample Rate: %d Hz\n", audioConfig.SampleRate)
			fmt.Printf("  Channels: %d\n", audioConfig.Channels)
			fmt.Printf("  Buffer Size: %d samples\n", audioConfig.BufferSize)
			fmt.Printf("  Timeslice: %s\n", audioConfig.Timeslice)

			if issues := config.Validate(); len(issues) > 0 {
				fmt.Println("\nIssues:")
				for _, issue := range issues {
					fmt.Printf("  - %s\n", issue)
				}
			}
		},
	})
	return cmd
}

func devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Audio device management",
		Long:  "Commands for listing and testing input devices",
	}

	cmd.AddCommand(devicesListCmd())
	cmd.AddCommand(devicesTestCmd())
	return cmd
}

func devicesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := feedback.ListInputDevices()
			if err != nil {
				feedback.GetGlobalLogger().WithError(err).Error("Failed to list audio devices")
				return err
			}

			fmt.Println("Input Devices:")
			for _, device := range devices {
				marker := ""
				if device.IsDefaultInput {
					marker = " (Default)"
				}
				fmt.Printf("  %d: %s%s - %d channels (%.0f Hz, %s)\n",
					device.ID, device.Name, marker, device.MaxInputChannels, device.DefaultSampleRate, device.HostAPI)
			}
			return nil
		},
	}
}

func devicesTestCmd() *cobra.Command {
	var testDuration time.Duration
	cmd := &cobra.Command{
		Use:   "test [device-id]",
		Short: "Test an input device",
		Long:  "Record briefly from an input device and report the peak level",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dm := feedback.NewAudioDeviceManager()
			if err := dm.Initialize(); err != nil {
				return err
			}
			defer dm.Cleanup()

			deviceID := -1
			if len(args) > 0 {
				id, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid device id %q", args[0])
				}
				deviceID = id
			} else {
				device, err := dm.GetDefaultInputDevice()
				if err != nil {
					return err
				}
				deviceID = device.ID
			}

			info, err := dm.DeviceInfo(deviceID)
			if err != nil {
				return err
			}
			fmt.Printf("%s\nRecording %s...\n", info, testDuration)

			peak, err := dm.TestInputDevice(deviceID, testDuration)
			if err != nil {
				return err
			}
			fmt.Printf("Peak level: [%s] %.1f%%\n", feedback.ProgressBar(peak*100, 30), peak*100)
			if peak == 0 {
				fmt.Println("No signal detected, check the microphone")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&testDuration, "duration", 3*time.Second, "Test length")
	return cmd
}
