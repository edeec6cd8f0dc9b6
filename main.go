package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/Matthew-VandenBoom/NetworkingProject/client"
	"github.com/Matthew-VandenBoom/NetworkingProject/config"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <peerId>\n", os.Args[0])
		os.Exit(1)
	}
	peerID, err := strconv.Atoi(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad peer id %q\n", os.Args[1])
		os.Exit(1)
	}

	cfg, err := config.Load("Common.cfg", "PeerInfo.cfg", peerID)
	if err != nil {
		logrus.Fatalln(err)
	}

	if err := client.NewClient(cfg).Run(); err != nil {
		logrus.Fatalln(err)
	}
}
