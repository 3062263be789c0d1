package main

import (
	"context"
	"fmt"
	"io"

	"github.com/loykin/genkeep/pkg/client"
)

// command runs the client subcommands against a daemon.
type command struct {
	global *GlobalFlags
}

func (c command) client() (*client.Client, error) {
	url, err := apiURL(c.global)
	if err != nil {
		return nil, err
	}
	return client.New(client.Config{BaseURL: url, Timeout: c.global.APITimeout}), nil
}

func (c command) Progress(ctx context.Context, out io.Writer, f ProgressFlags) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	var req client.ProgressRequest
	if f.TitleSet {
		req.Title = &f.Title
	}
	if f.BodySet {
		req.Body = &f.Body
	}
	if f.ProgressSet {
		req.Progress = &f.Progress
	}
	if err := cl.UpdateProgress(ctx, req); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "ok")
	return nil
}

func (c command) Stop(ctx context.Context, out io.Writer) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	if err := cl.Stop(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "stopped")
	return nil
}

func (c command) Status(ctx context.Context, out io.Writer) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	st, err := cl.Status(ctx)
	if err != nil {
		return err
	}
	printJSON(out, st)
	return nil
}

func (c command) Exclude(ctx context.Context, out io.Writer) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	if err := cl.RequestExclusion(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "exclusion requested")
	return nil
}

func (c command) Check(ctx context.Context, out io.Writer) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	res, err := cl.Check(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, res.Outcome)
	return nil
}
