/*
 * Copyright © 2025 Kaleido, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kaleido-io/relaymesh/internal/relayer"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "relaymesh",
		Short: "Interchain message relayer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the relayer config file")
	return cmd
}

func run(ctx context.Context, configPath string) error {
	conf, err := relayer.LoadConfig(ctx, configPath)
	if err != nil {
		return err
	}
	resolved, errs := conf.Resolve(ctx)
	if len(errs) > 0 {
		// show the operator every problem, not just the first
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, err)
		}
		return fmt.Errorf("%d configuration errors", len(errs))
	}

	if level, err := logrus.ParseLevel(resolved.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	r, err := relayer.NewRelayer(ctx, resolved)
	if err != nil {
		return err
	}
	if err := r.Start(); err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.L(ctx).Infof("Received %s, shutting down", sig)
	r.Stop()
	return nil
}
