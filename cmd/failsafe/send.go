package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/vinayprograms/failsafe/bus"
	"github.com/vinayprograms/failsafe/inject"
	"github.com/vinayprograms/failsafe/logging"
)

type sendFlags struct {
	apiURL  string
	natsURL string
	subject string
	target  string
	args    string
	timeout time.Duration
}

func runSend(args []string) error {
	var f sendFlags
	fs := newFlagSet("send", "[flags] <command>")
	fs.StringVar(&f.apiURL, "api", "http://localhost:8080", "server operator API")
	fs.StringVar(&f.natsURL, "nats-url", "", "send over NATS instead of HTTP")
	fs.StringVar(&f.subject, "subject", bus.DefaultCommandSubject, "NATS command subject")
	fs.StringVarP(&f.target, "target", "t", "", "client ID, empty for every client")
	fs.StringVar(&f.args, "args", "", "command args as a JSON object")
	fs.DurationVar(&f.timeout, "timeout", 30*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return &exitError{code: 2, err: errors.New("exactly one command is required")}
	}

	body, err := buildRequest(fs.Arg(0), f.args, f.target)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	var reply []byte
	if f.natsURL != "" {
		reply, err = sendNATS(ctx, f.natsURL, f.subject, body)
	} else {
		reply, err = sendHTTP(ctx, f.apiURL, body)
	}
	if len(reply) > 0 {
		os.Stdout.Write(reply)
		if !bytes.HasSuffix(reply, []byte("\n")) {
			fmt.Println()
		}
	}
	return err
}

// buildRequest encodes a CommandRequest. rawArgs may be empty.
func buildRequest(command, rawArgs, target string) ([]byte, error) {
	req := inject.CommandRequest{Command: command, Target: target}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &req.Args); err != nil {
			return nil, fmt.Errorf("--args: %w", err)
		}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	// Round trip through the server's parser so bad input fails here.
	if _, err := inject.ParseRequest(body); err != nil {
		return nil, err
	}
	return body, nil
}

func sendHTTP(ctx context.Context, apiURL string, body []byte) ([]byte, error) {
	encoded := base64.StdEncoding.EncodeToString(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(apiURL, "/")+"/command", strings.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return reply, fmt.Errorf("server answered %s", resp.Status)
	}
	return reply, nil
}

func sendNATS(ctx context.Context, url, subject string, body []byte) ([]byte, error) {
	cfg := bus.DefaultNATSConfig()
	cfg.URL = url
	cfg.Name = "failsafe-send"
	cfg.MaxReconnects = 0
	cfg.Logger = logging.Nop()
	nb, err := bus.NewNATSBus(cfg)
	if err != nil {
		return nil, err
	}
	defer nb.Close()

	msg, err := nb.Request(ctx, subject, body)
	if err != nil {
		return nil, err
	}

	var reply inject.Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return msg.Data, err
	}
	if reply.Error != nil {
		return msg.Data, reply.Error
	}
	return msg.Data, nil
}
