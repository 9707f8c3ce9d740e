package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"llavad/internal/app"
)

func newChatCmd(opts *options) *cobra.Command {
	var (
		model     string
		imagePath string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a model on stdin",
		Long: "Reads one turn per line. /reset clears the conversation and reloads\n" +
			"the model; /image <path> attaches an image to the next turn; /quit exits.",
		Example: "  llavad chat --model danube-ko-1.8b-q8 --image photo.jpg",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if model != "" {
				cfg.DefaultModel = model
			}
			a, err := opts.newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Manager.Selected() == "" {
				return fmt.Errorf("no model selected: pass --model or set default_model")
			}
			var image []byte
			if imagePath != "" {
				if image, err = os.ReadFile(imagePath); err != nil {
					return err
				}
			}
			return runChat(cmd, a, image)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Model id to chat with")
	cmd.Flags().StringVar(&imagePath, "image", "", "Image attached to the first turn")
	return cmd
}

func runChat(cmd *cobra.Command, a *app.App, image []byte) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	if err := a.Session.PreInit(ctx); err != nil {
		return err
	}
	sc := bufio.NewScanner(cmd.InOrStdin())
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	prompt(out)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/reset":
			if err := a.ResetSession(ctx); err != nil {
				fmt.Fprintln(out, "reset failed:", err)
			} else {
				image = nil
				fmt.Fprintln(out, "(conversation reset)")
			}
		case strings.HasPrefix(line, "/image "):
			b, err := os.ReadFile(strings.TrimSpace(strings.TrimPrefix(line, "/image ")))
			if err != nil {
				fmt.Fprintln(out, "image:", err)
				break
			}
			image = b
			fmt.Fprintf(out, "(image attached, %d bytes)\n", len(b))
		default:
			resp, err := a.SubmitTurn(ctx, line, image)
			image = nil
			if err != nil {
				fmt.Fprintln(out, "error:", err)
				break
			}
			fmt.Fprintln(out, resp.Message.Text)
		}
		prompt(out)
	}
	return sc.Err()
}

func prompt(w io.Writer) { fmt.Fprint(w, "> ") }
