// Package feedback records short voice clips for a student, lets the
// teacher review them, stores one clip per student in an S3 bucket and
// plays the current clip back on a public feedback page.
//
// # Overview
//
// The package is built from three parts:
//   - RecorderController, a start/stop state machine over a CaptureDevice
//   - PlaybackController, play/pause/seek with progress over a MediaElement
//   - S3Uploader and S3Fetcher, which keep exactly one clip per student
//
// PortAudio backs both devices by default (PortAudioCapture and
// PortAudioElement). Both controllers accept any implementation of the
// device interfaces, which is how the tests drive them.
//
// # Quick Start
//
//	config := feedback.NewFeedbackConfig()
//	client, err := feedback.NewDefaultFeedbackClient(ctx, config, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Cleanup()
//
//	if _, err := client.RecordFor(ctx, 10*time.Second); err != nil {
//		log.Fatal(err)
//	}
//	record, err := client.ConfirmUpload(ctx, "student-42")
//	if err != nil {
//		log.Fatal(feedback.UserMessage(err))
//	}
//	link, _ := client.FeedbackLink("student-42", "Ada")
//	fmt.Println(record.Key, link)
//
// # Recording
//
// A session goes Idle, Requesting, Recording, Stopped. Stop assembles the
// fragments received so far into an AudioArtifact and issues a local
// preview handle. Discard or a successful Confirm returns to Idle and
// revokes the handle. A failed Confirm keeps the artifact so the upload can
// be retried.
//
// # Playback
//
// A Source is either a local handle or a remote URL, never both. Progress
// is only computed once the media reports a duration:
//
//	player := client.Player()
//	player.AddProgressHandler(feedback.CreateProgressPrinter(os.Stdout, 30))
//	_ = player.TogglePlay(ctx)
//	_ = player.Seek(0.5)
//
// # Storage
//
// Clips are stored under "<prefix>/<studentId>.<ext>" with a
// must-revalidate Cache-Control, so a re-recorded clip replaces the old
// one for every later fetch.
//
// # Configuration
//
// FeedbackConfig reads FEEDBACK_* environment variables, optionally from a
// .env file. Call Validate or Err before use.
//
// # Error Handling
//
// All errors are *FeedbackError values with a code:
//
//	if errors.Is(err, feedback.ErrDeviceAccess) {
//		fmt.Println(feedback.UserMessage(err))
//	}
//
// # Logging
//
// Components log through a zerolog based FeedbackLogger. Replace the
// package logger with SetGlobalLogger.
package feedback
