/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/khronos-project/khronos/config"
	"github.com/khronos-project/khronos/discipline"
	"github.com/khronos-project/khronos/khronosstats"
	"github.com/khronos-project/khronos/tick"
)

var (
	configPath string
	listenAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the khronos daemon",
	RunE:  runDaemon,
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "/etc/khronos/khronos.yaml", "path to khronos.yaml")
	runCmd.Flags().StringVarP(&listenAddr, "listen", "l", ":9100", "address for /metrics and /status")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.ReadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := tick.NewSource()
	h, err := discipline.Start(ctx, cfg, src, nil)
	if err != nil {
		return err
	}

	notifySystemdReady()

	exporter := khronosstats.NewExporter(h, listenAddr)
	go func() {
		if err := exporter.Start(); err != nil {
			log.WithError(err).Error("khronosstats exporter stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	h.Shutdown()
	return nil
}

// notifySystemdReady is called once the discipline loop is running, not
// after its first successful sample: prolonged NTP failure is a normal
// operating condition (spec §7), not a reason to withhold readiness.
func notifySystemdReady() {
	supported, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if !supported && err != nil {
		log.WithError(err).Warning("sd_notify failed")
	} else if !supported {
		log.Debug("sd_notify not supported")
	} else {
		log.Info("sent sd_notify ready")
	}
}
