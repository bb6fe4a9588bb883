// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"github.com/sirupsen/logrus"
)

// logEntry returns the logger configured for a server, falling back
// to a standard logrus instance at Warn level so a library consumer
// who never sets ServerConfig.Logger still gets the error that ended
// each connection (including a too-many-auth-attempts disconnect) and
// handler failures on stderr instead of silent failure. Individual
// rejected auth attempts are not logged. This mirrors
// how AlexAQ972-FASST-LLM (zgrab2) always has a *logrus.Entry on hand
// for every scan module, never falling back to fmt.Print*, unlike the
// teacher's client.go mainLoop which does.
func logEntry(cfg *ServerConfig) *logrus.Entry {
	if cfg != nil && cfg.Logger != nil {
		return cfg.Logger
	}
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return logrus.NewEntry(l)
}
