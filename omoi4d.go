package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ekuinox/omoi4/config"
	"github.com/ekuinox/omoi4/internal/dhcp4d"
	"github.com/ekuinox/omoi4/internal/httpapi"
	"github.com/ekuinox/omoi4/internal/leasestore"
)

var confPath = flag.String("config", "", "Config path (default: "+config.DefaultPath+", overridden by "+config.EnvPath+")")

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("omoi4d exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	path := *confPath
	if path == "" {
		path = config.Path()
	}

	conf, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	subnet, hosts, err := conf.Resolve()
	if err != nil {
		return fmt.Errorf("resolve config: %w", err)
	}

	store, err := leasestore.Open(conf.Common.DatabaseDir)
	if err != nil {
		return fmt.Errorf("open lease store %s: %w", conf.Common.DatabaseDir, err)
	}
	defer store.Close()

	reservations := make([]dhcp4d.Reservation, 0, len(hosts))
	for _, h := range hosts {
		reservations = append(reservations, dhcp4d.Reservation{
			Name:         h.Name,
			HardwareAddr: h.HardwareEthernet,
			FixedAddress: h.FixedAddress,
		})
	}

	subnetConfig := dhcp4d.SubnetConfig{
		RangeLo:          subnet.RangeLo,
		RangeHi:          subnet.RangeHi,
		AddressLeaseTime: subnet.AddressLeaseTime,
	}
	staticOptions := dhcp4d.StaticOptions(subnet.Netmask, subnet.BroadcastAddress, subnet.Routers, subnet.DomainNameServers)

	metrics := httpapi.NewMetrics()

	// serverIP (siaddr) has no configuration knob: original_source never
	// sets one (see DESIGN.md), so omoi4d always identifies itself as
	// 0.0.0.0, same as the Rust implementation it was ported from.
	// dhcp4.ReplyPacket still injects a ServerIdentifier option from this
	// value unconditionally; dhcp4d.NewServer normalizes it to 4 bytes so
	// that option is well-formed 0.0.0.0 rather than a 16-byte value.
	server, err := dhcp4d.NewServer(subnetConfig, net.IPv4zero, staticOptions, store, reservations, metrics)
	if err != nil {
		return fmt.Errorf("start dhcp4 server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Serve(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("dhcp4 server: %w", err)
		}
		return nil
	})

	if conf.HTTP.Addr != "" {
		mux := httpapi.NewMux(store, metrics)
		httpSrv := &http.Server{Addr: conf.HTTP.Addr, Handler: mux}

		g.Go(func() error {
			<-gctx.Done()
			return httpSrv.Shutdown(context.Background())
		})
		g.Go(func() error {
			slog.Info("http listen", "addr", conf.HTTP.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}
