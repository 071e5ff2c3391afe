// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"

	mail "gopkg.in/gomail.v2"
)

// alert describes an array that keeps aborting.
type alert struct {
	array int
	n     int // consecutive aborts
	err   error
}

// watcher counts the consecutive aborts of each array and raises an
// alert when an array reaches the threshold.
type watcher struct {
	max    int
	counts map[int]int
	alerts chan alert
}

func newWatcher(max int) *watcher {
	return &watcher{
		max:    max,
		counts: make(map[int]int),
		alerts: make(chan alert, 16),
	}
}

func (w *watcher) abort(i int, err error) {
	w.counts[i]++
	if w.max <= 0 || w.counts[i] != w.max {
		return
	}
	select {
	case w.alerts <- alert{array: i, n: w.counts[i], err: err}:
	default:
		// alert queue full: drop it.
	}
}

func (w *watcher) ok(i int) {
	delete(w.counts, i)
}

func (w *watcher) close() {
	close(w.alerts)
}

var (
	alertMailUsr  = os.Getenv("MAIL_USERNAME")
	alertMailPwd  = os.Getenv("MAIL_PASSWORD")
	alertMailSrv  = os.Getenv("MAIL_SERVER")
	alertMailPort = atoi(os.Getenv("MAIL_PORT"))
	alertMailTgts = strings.Split(os.Getenv("MAIL_TGTS"), ",")
)

func alertMail(a alert) error {
	if alertMailUsr == "" || alertMailPwd == "" ||
		alertMailSrv == "" || alertMailPort == 0 ||
		len(alertMailTgts) == 0 || alertMailTgts[0] == "" {
		return fmt.Errorf("missing mail credentials")
	}

	msg := newAlertMail(a)
	dial := mail.NewDialer(alertMailSrv, alertMailPort, alertMailUsr, alertMailPwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	return dial.DialAndSend(msg)
}

func newAlertMail(a alert) *mail.Message {
	host, _ := os.Hostname()
	msg := mail.NewMessage()
	msg.SetHeader("From", alertMailUsr)
	msg.SetHeader("Bcc", alertMailTgts...)
	msg.SetHeader("Subject", fmt.Sprintf("[bsa-daq] array %d keeps aborting", a.array))
	msg.SetBody("text/plain", fmt.Sprintf("host:   %s\narray:  %d\naborts: %d\nerror:  %+v",
		host, a.array, a.n, a.err,
	))
	return msg
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
