// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2024 The btclite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// btclite-ping connects to the bitcoin network, keeps a small pool of peers,
// and follows the block chain, logging progress as it goes.  It is the
// smallest useful exercise of the library: discovery, handshake, download
// peer election, and header storage all run for real.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/btcsuite/btclog"
	socks "github.com/btcsuite/go-socks/socks"
	flags "github.com/jessevdk/go-flags"
	"github.com/jrick/logrotate/rotator"

	"github.com/btclite/btclite/blockchain"
	"github.com/btclite/btclite/chaincfg"
	"github.com/btclite/btclite/mempool"
	"github.com/btclite/btclite/peer"
	"github.com/btclite/btclite/wire"
)

// config defines the configuration options for btclite-ping.
type config struct {
	TestNet    bool     `long:"testnet" description:"Use the test network"`
	RegTest    bool     `long:"regtest" description:"Use the regression test network"`
	Connect    []string `long:"connect" description:"Connect only to the specified peers (host:port); disables DNS discovery"`
	Proxy      string   `long:"proxy" description:"Connect via SOCKS5 proxy (host:port)"`
	DataDir    string   `long:"datadir" description:"Directory to store the block headers in"`
	DebugLevel string   `short:"d" long:"debuglevel" default:"info" description:"Logging level {trace, debug, info, warn, error, critical}"`
	NoStore    bool     `long:"nostore" description:"Keep headers in memory only"`
}

var (
	// log is the logger for the main package.
	log btclog.Logger

	// logRotator is one of the logging outputs.  It should be closed on
	// application shutdown.
	logRotator *rotator.Rotator
)

// logWriter implements an io.Writer that outputs to both standard output and
// the write-end pipe of an initialized log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	if logRotator != nil {
		logRotator.Write(p)
	}
	return len(p), nil
}

// setupLogging initializes the per-subsystem loggers and, when a data
// directory is available, file rotation next to the header database.
func setupLogging(cfg *config) error {
	if cfg.DataDir != "" {
		logFile := filepath.Join(cfg.DataDir, "btclite-ping.log")
		r, err := rotator.New(logFile, 10*1024, false, 3)
		if err != nil {
			return fmt.Errorf("failed to create log rotator: %w", err)
		}
		logRotator = r
	}

	level, ok := btclog.LevelFromString(cfg.DebugLevel)
	if !ok {
		return fmt.Errorf("invalid debug level %q", cfg.DebugLevel)
	}

	backend := btclog.NewSLogger(btclog.NewDefaultHandler(logWriter{}))
	backend.SetLevel(level)

	log = backend.SubSystem("MAIN")

	peerLog := backend.SubSystem("PEER")
	peerLog.SetLevel(level)
	peer.UseLogger(peerLog)

	chainLog := backend.SubSystem("CHAN")
	chainLog.SetLevel(level)
	blockchain.UseLogger(chainLog)

	poolLog := backend.SubSystem("MPOL")
	poolLog.SetLevel(level)
	mempool.UseLogger(poolLog)

	return nil
}

// netParams returns the network parameters selected by the configuration.
func netParams(cfg *config) *chaincfg.Params {
	switch {
	case cfg.RegTest:
		return &chaincfg.RegressionNetParams
	case cfg.TestNet:
		return &chaincfg.TestNet3Params
	default:
		return &chaincfg.MainNetParams
	}
}

func realMain() error {
	cfg := config{}
	if _, err := flags.Parse(&cfg); err != nil {
		// The flags package prints usage itself.
		if flagsErr, ok := err.(*flags.Error); ok &&
			flagsErr.Type == flags.ErrHelp {
			return nil
		}
		return err
	}

	params := netParams(&cfg)

	if cfg.DataDir == "" && !cfg.NoStore {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		cfg.DataDir = filepath.Join(home, ".btclite", params.Name)
	}
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return err
		}
	}

	if err := setupLogging(&cfg); err != nil {
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Header storage: leveldb on disk unless memory-only was requested.
	var store blockchain.BlockStore
	if cfg.NoStore {
		store = blockchain.NewMemoryStore(params)
	} else {
		dbPath := filepath.Join(cfg.DataDir, "headers")
		ldb, err := blockchain.NewLevelStore(dbPath, params)
		if err != nil {
			return err
		}
		store = ldb
	}
	defer store.Close()

	chain, err := blockchain.New(&blockchain.Config{
		Store:  store,
		Params: params,
	})
	if err != nil {
		return err
	}

	table := mempool.NewTxTable(mempool.DefaultTableSize)
	chain.Subscribe(table)

	// Discovery: explicit peers when given, the network DNS seeds
	// otherwise.
	var discoverers []peer.Discovery
	if len(cfg.Connect) > 0 {
		static, err := peer.NewStaticDiscovery(cfg.Connect...)
		if err != nil {
			return err
		}
		discoverers = append(discoverers, static)
	} else {
		discoverers = append(discoverers, peer.NewDNSDiscovery(params))
	}

	var dial func(network, addr string) (net.Conn, error)
	if cfg.Proxy != "" {
		proxy := &socks.Proxy{Addr: cfg.Proxy}
		dial = proxy.Dial
	}

	head, err := store.ChainHead()
	if err != nil {
		return err
	}
	log.Infof("Starting from height %d on %s", head.Height, params.Name)

	pool := peer.NewPool(&peer.PoolConfig{
		Params:      params,
		Chain:       chain,
		Store:       store,
		TxTable:     table,
		Discoverers: discoverers,
		Dial:        dial,
		Listeners: peer.PoolListeners{
			OnPeerConnected: func(count int) {
				log.Infof("Peer connected (%d total)", count)
			},
			OnPeerDisconnected: func(count int) {
				log.Infof("Peer disconnected (%d total)", count)
			},
		},
		PeerListeners: peer.Listeners{
			OnBlocksDownloaded: func(p *peer.Peer, block *wire.MsgBlock, blocksLeft int32) {
				if blocksLeft%100 == 0 {
					log.Infof("Downloaded %v from %s (%d left)",
						block.BlockHash(), p, blocksLeft)
				}
			},
			OnTx: func(p *peer.Peer, tx *wire.MsgTx) {
				txHash := tx.TxHash()
				confidence := table.Get(&txHash)
				if confidence != nil {
					log.Infof("Saw transaction %v from %d peers",
						txHash, confidence.NumBroadcastPeers())
				}
			},
		},
	})

	pool.Start()
	pool.StartBlockChainDownload()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	log.Infof("Shutting down")
	pool.Stop()
	pool.Wait()
	return nil
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
