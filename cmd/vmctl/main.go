// Package main creates or deletes a KubeVirt VirtualMachine from a YAML
// parameter file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"sigs.k8s.io/yaml"

	"kv-inventory.io/kvinv/internal/config"
	"kv-inventory.io/kvinv/internal/manifest"
	apperrors "kv-inventory.io/kvinv/internal/pkg/errors"
	"kv-inventory.io/kvinv/internal/pkg/logger"
	"kv-inventory.io/kvinv/internal/provider"
	"kv-inventory.io/kvinv/internal/runner"
)

func main() {
	if err := run(); err != nil {
		if appErr, ok := apperrors.IsAppError(err); ok && len(appErr.Params) > 0 {
			// Fatal errors carry the partial result accumulated so far.
			payload, _ := json.Marshal(appErr.Params)
			fmt.Fprintf(os.Stderr, "fatal: %v\nresult: %s\n", err, payload)
		} else {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		}
		os.Exit(1)
	}
}

func run() error {
	var (
		paramsPath  string
		configPath  string
		state       string
		doWait      bool
		waitSleep   time.Duration
		waitTimeout time.Duration
		dump        bool
	)
	flag.StringVar(&paramsPath, "params", "", "path to the VirtualMachine params YAML file")
	flag.StringVar(&configPath, "config", "", "path to the connection configuration file")
	flag.StringVar(&state, "state", "present", "desired state: present or absent")
	flag.BoolVar(&doWait, "wait", false, "wait for the VirtualMachine to become ready (or be gone)")
	flag.DurationVar(&waitSleep, "wait-sleep", 5*time.Second, "interval between wait polls")
	flag.DurationVar(&waitTimeout, "wait-timeout", 120*time.Second, "how long to wait before giving up")
	flag.BoolVar(&dump, "dump", false, "print the rendered manifest and exit")
	flag.Parse()

	if paramsPath == "" {
		return apperrors.BadRequest(apperrors.CodeVMSpecInvalid, "--params is required")
	}
	if state != string(runner.StatePresent) && state != string(runner.StateAbsent) {
		return apperrors.BadRequest(apperrors.CodeVMSpecInvalid, "--state must be present or absent")
	}

	raw, err := os.ReadFile(paramsPath)
	if err != nil {
		return fmt.Errorf("read params: %w", err)
	}
	var params manifest.Params
	if err := yaml.UnmarshalStrict(raw, &params); err != nil {
		return apperrors.Wrap(err, apperrors.CodeVMSpecInvalid, "parse params", 400)
	}

	if dump {
		rendered, err := manifest.RenderYAML(params)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(rendered)
		return err
	}

	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	conn := config.Connection{APIVersion: config.DefaultAPIVersion}
	if len(cfg.Connections) > 0 {
		conn = cfg.Connections[0]
	}
	client, err := provider.NewClient(conn)
	if err != nil {
		return err
	}

	result, err := runner.New(client.VM()).Run(context.Background(), params, runner.State(state), runner.Options{
		Wait:        doWait,
		WaitSleep:   waitSleep,
		WaitTimeout: waitTimeout,
	})
	if err != nil {
		return err
	}

	logger.Info("VirtualMachine operation finished",
		zap.String("method", result.Method),
		zap.Bool("changed", result.Changed),
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
