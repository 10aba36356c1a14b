// SPDX-FileCopyrightText: Copyright (C) 2025 The Katzenpost Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build pyroscope
// +build pyroscope

package profiling

import (
	"os"

	"github.com/grafana/pyroscope-go"
	"gopkg.in/op/go-logging.v1"
)

const (
	defaultAppName    = "swenc-server"
	defaultServiceTag = "swenc"
)

// Start starts continuous profiling if PYROSCOPE_SERVER_ADDRESS is set and
// returns the function that stops it.
func Start(log *logging.Logger) (func() error, error) {
	serverAddress := os.Getenv("PYROSCOPE_SERVER_ADDRESS")
	if serverAddress == "" {
		log.Notice("Pyroscope: PYROSCOPE_SERVER_ADDRESS is not set, profiling disabled")
		return noop, nil
	}
	appName := os.Getenv("PYROSCOPE_APP_NAME")
	if appName == "" {
		appName = defaultAppName
	}
	serviceTag := os.Getenv("PYROSCOPE_SERVICE_TAG")
	if serviceTag == "" {
		serviceTag = defaultServiceTag
	}

	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   serverAddress,
		Logger:          log,
		Tags: map[string]string{
			"service": serviceTag,
		},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, err
	}
	log.Noticef("Pyroscope started at %s, app name: %s, service tag: %s", serverAddress, appName, serviceTag)
	return p.Stop, nil
}
