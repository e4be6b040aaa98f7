// Copyright (C) 2025 Christian Rößner
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dirwarden/dirwarden/server/config"
	"github.com/dirwarden/dirwarden/server/definitions"
	"github.com/dirwarden/dirwarden/server/directory"
	"github.com/dirwarden/dirwarden/server/handler"
	"github.com/dirwarden/dirwarden/server/ldapgw"
	"github.com/dirwarden/dirwarden/server/log"
	"github.com/dirwarden/dirwarden/server/monitor"
	"github.com/dirwarden/dirwarden/server/pool"
	"github.com/dirwarden/dirwarden/server/selector"
	"github.com/dirwarden/dirwarden/server/vault"

	"github.com/spf13/pflag"
)

var (
	version   = "dev"
	buildTime = ""
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yml", "path to the cluster configuration file")
	showVersion := pflag.BoolP("version", "v", false, "print version and exit")

	pflag.Parse()

	if *showVersion {
		fmt.Printf("dirwarden %s %s\n", version, buildTime)

		return
	}

	env, err := config.LoadEnvironment()
	if err != nil {
		stdlog.Fatalln("Unable to read the environment. Error:", err)
	}

	log.SetupLogging(env.LogLevel, env.LogJSON, env.Instance)

	if env.Workers > 0 {
		runtime.GOMAXPROCS(env.Workers)
	}

	settings, err := config.Load(*configPath)
	if err != nil {
		stdlog.Fatalln("Unable to load the configuration. Error:", err)
	}

	store := config.NewStore(settings)

	credentialVault, err := vault.New(env.SecretsDir, env.CredentialTTL, log.Logger)
	if err != nil {
		stdlog.Fatalln("Unable to initialize the credential vault. Error:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodeSelector := selector.New(definitions.DefaultReachabilityTimeout, log.Logger)

	sessionPool := pool.New(pool.Options{
		IdleTTL:    env.PoolIdleTTL,
		NetTimeout: env.NetTimeout,
		OpTimeout:  env.OpTimeout,
		Logger:     log.Logger,
	})
	sessionPool.StartReaper(ctx)

	gateway := ldapgw.New(ldapgw.Options{
		Settings:   store,
		Selector:   nodeSelector,
		Pool:       sessionPool,
		Vault:      credentialVault,
		NetTimeout: env.NetTimeout,
		OpTimeout:  env.OpTimeout,
		Logger:     log.Logger,
	})

	deps := &handler.Deps{
		Settings: store,
		Env:      env,
		Vault:    credentialVault,
		Gateway:  gateway,
		Service:  directory.NewService(gateway, log.Logger),
		Monitor:  monitor.New(gateway, definitions.DefaultProbeWait, log.Logger),
		Pool:     sessionPool,
		Logger:   log.Logger,
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", env.Port),
		Handler: handler.NewRouter(deps),
	}

	go handleSignals(cancel, store, *configPath)

	go func() {
		log.Logger.Info("listening", "addr", server.Addr, "version", version)

		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			stdlog.Fatalln("HTTP server failed. Error:", serveErr)
		}
	}()

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()

	if err = server.Shutdown(stopCtx); err != nil {
		log.Logger.Error("shutdown incomplete", definitions.LogKeyError, err.Error())
	}

	sessionPool.Drain()
}

// handleSignals reloads the configuration on SIGHUP and cancels the root
// context on SIGINT/SIGTERM. A reload that fails validation keeps the active
// tree.
func handleSignals(cancel context.CancelFunc, store *config.Store, configPath string) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range signals {
		switch sig {
		case syscall.SIGHUP:
			settings, err := config.Load(configPath)
			if err != nil {
				log.Logger.Error("configuration reload rejected", definitions.LogKeyError, err.Error())

				continue
			}

			store.Swap(settings)
			log.Logger.Info("configuration reloaded", "clusters", len(settings.Clusters))

		default:
			log.Logger.Info("shutting down", "signal", sig.String())
			cancel()

			return
		}
	}
}
