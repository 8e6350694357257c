package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/djs55/vhddisk/pkg/elog"
)

var log elog.Logger

func init() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logrus.SetLevel(logrus.InfoLevel)
	log = elog.New("vhdctl")
}

func main() {
	commandInit()

	if err := rootCmd.Execute(); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}
