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
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/khronos-project/khronos/khronosstats"
)

var statusTarget string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print the status of a running khronos daemon",
	RunE:  printStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusTarget, "target", "t", "http://localhost:9100", "base URL of a running khronosd")
}

var (
	okString   = color.GreenString("[ OK ]")
	warnString = color.YellowString("[WARN]")
)

// inBandString colors a nis_ema value based on the central-mass bounds of
// spec §4.D: green if within [0.1, 3.8], yellow otherwise.
func inBandString(nisEMA float64) string {
	if nisEMA >= 0.1 && nisEMA <= 3.8 {
		return okString
	}
	return warnString
}

func printStatus(cmd *cobra.Command, args []string) error {
	s, err := khronosstats.FetchStatus(statusTarget)
	if err != nil {
		return err
	}

	fmt.Printf("%s now_utc       %s\n", okString, s.NowUTC.Format(time.RFC3339Nano))
	fmt.Printf("%s offset        %s\n", okString, color.CyanString("%.6fs", s.OffsetSeconds))
	fmt.Printf("%s drift         %s\n", okString, color.CyanString("%.3fppm", s.DriftPPM))
	fmt.Printf("%s nis_ema       %s %.3f\n", inBandString(s.NISEMA), color.CyanString("q_scale=%.3e", s.QScale), s.NISEMA)
	fmt.Printf("%s last_server   %s (rtt %s +/- %s)\n", okString, s.LastServer, time.Duration(s.LastRTTNanos), time.Duration(s.RTTStdDevNanos))
	fmt.Printf("%s last_sync_ago %s\n", okString, time.Duration(s.LastSyncAgoNanos))
	fmt.Printf("%s epoch         %d\n", okString, s.EpochCounter)
	fmt.Printf("%s samples       succeeded=%d failed=%d rejected=%d\n",
		okString, s.SamplesSucceeded, s.SamplesFailed, s.SamplesRejected)
	return nil
}
