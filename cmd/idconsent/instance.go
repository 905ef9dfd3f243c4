// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/ndidplatform/idconsent/internal/componentmgr"
	"github.com/ndidplatform/idconsent/pkg/conf"
	"github.com/ndidplatform/idconsent/pkg/log"
)

var componentManagerFactory = componentmgr.NewComponentManager

type instance struct {
	configFile string
	nodeID     string

	ctx       context.Context
	cancelCtx context.CancelFunc
	signals   chan os.Signal
	stopped   atomic.Bool
	started   chan struct{}
	done      chan struct{}
}

type RC int

const (
	RC_OK   RC = 0
	RC_FAIL RC = 1
)

func newInstance(configFile, nodeID string) *instance {
	i := &instance{
		configFile: configFile,
		nodeID:     nodeID,
		signals:    make(chan os.Signal),
		started:    make(chan struct{}),
		done:       make(chan struct{}),
	}
	i.ctx, i.cancelCtx = context.WithCancel(log.WithLogField(context.Background(), "pid", strconv.Itoa(os.Getpid())))
	return i
}

func (i *instance) signalHandler() {
	signal.Notify(i.signals, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-i.signals
	if sig != nil {
		log.L(i.ctx).Infof("Stopping due to signal %s", sig)
		i.stop()
	}
}

func (i *instance) run() RC {
	defer close(i.done)
	go i.signalHandler()

	var config conf.Config
	if err := conf.ReadAndParseYAMLFile(i.ctx, i.configFile, &config); err != nil {
		log.L(i.ctx).Error(err.Error())
		return RC_FAIL
	}
	if i.nodeID != "" {
		config.NodeID = i.nodeID
	}

	cm := componentManagerFactory(i.ctx, &config)
	// From this point need to ensure we stop the component manager
	defer cm.Stop()

	err := cm.Init()
	if err == nil {
		// managers reload their persisted state before any new events can arrive
		err = cm.StartManagers()
	}
	if err == nil {
		// then the block poller, the transport listener and the metrics server
		err = cm.CompleteStart()
	}
	if err != nil {
		log.L(i.ctx).Error(err.Error())
		return RC_FAIL
	}
	close(i.started)

	<-i.ctx.Done()
	return RC_OK
}

func (i *instance) stop() {
	if i.stopped.CompareAndSwap(false, true) {
		signal.Stop(i.signals)
		i.cancelCtx()
		close(i.signals)
		<-i.done
	}
}
