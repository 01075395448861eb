package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/acme/autocert"

	"waterway-dashboard/pkg/api"
	"waterway-dashboard/pkg/database"
	"waterway-dashboard/pkg/importer"
	"waterway-dashboard/pkg/lanannounce"
	"waterway-dashboard/pkg/plotsession"
	"waterway-dashboard/pkg/qrshare"
	"waterway-dashboard/pkg/readingsarchive"
	"waterway-dashboard/pkg/readingstream"
	"waterway-dashboard/pkg/viewport"
	"waterway-dashboard/pkg/viewstore"
)

type serveOptions struct {
	port       int
	domain     string
	viewsPath  string
	cacheTTL   time.Duration
	uploadMax  int64
	mdns       bool
	zoomMin    float64
	zoomMax    float64
	plotHeight string
	archiveDir string
	archiveAt  string
	cooldown   time.Duration
}

func serveCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard web server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.port, "port", 8765, "Port for running the server")
	f.StringVar(&opts.domain, "domain", "", "Use 80 and 443 ports. Automatic HTTPS cert via Let's Encrypt.")
	f.StringVar(&opts.viewsPath, "views-path", "views.genji", "Genji database holding saved views")
	f.DurationVar(&opts.cacheTTL, "cache-ttl", 5*time.Minute, "Lifetime of cached location and chemical responses (0 disables)")
	f.Int64Var(&opts.uploadMax, "upload-max", 32<<20, "Largest accepted upload in bytes")
	f.BoolVar(&opts.mdns, "mdns", false, "Announce the dashboard on the local network")
	f.Float64Var(&opts.zoomMin, "zoom-min", viewport.DefaultZoomMin, "Smallest zoom level of the plot")
	f.Float64Var(&opts.zoomMax, "zoom-max", viewport.DefaultZoomMax, "Largest zoom level of the plot")
	f.StringVar(&opts.plotHeight, "plot-height", viewport.DefaultHeight, "CSS height of the plot")
	f.StringVar(&opts.archiveDir, "archive-dir", "", "Directory for the downloadable readings archive (empty disables "+readingsarchive.RoutePath+")")
	f.StringVar(&opts.archiveAt, "archive-frequency", "daily", "Archive rebuild cadence: hourly, daily or weekly")
	f.DurationVar(&opts.cooldown, "heavy-cooldown", 30*time.Second, "Per-IP pause between uploads and archive downloads")
	return cmd
}

// dashboard bundles everything the HTTP handlers share.
type dashboard struct {
	db       *database.Database
	bus      *readingstream.Bus
	cache    *api.ResponseCache
	limiter  *api.RateLimiter
	api      *api.Handler
	importer *importer.Importer
	views    *viewstore.Store
	plots    *plotsession.Server
	pages    *pageSet
	archive  *readingsarchive.Generator

	uploadMax int64
}

func newDashboard(ctx context.Context, db *database.Database, views *viewstore.Store, opts serveOptions) (*dashboard, error) {
	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	freq, err := readingsarchive.ParseFrequency(opts.archiveAt)
	if err != nil {
		return nil, err
	}
	d := &dashboard{
		db:        db,
		bus:       readingstream.NewBus(256),
		cache:     api.NewResponseCache(opts.cacheTTL),
		limiter:   api.NewRateLimiter(opts.cooldown),
		views:     views,
		pages:     pages,
		uploadMax: opts.uploadMax,
	}
	d.api = api.NewHandler(db, d.cache, log.Printf)
	d.api.Limiter = d.limiter
	d.importer = importer.New(db, d.bus, log.Printf)
	if opts.archiveDir != "" {
		path := filepath.Join(opts.archiveDir, readingsarchive.FileName(opts.domain))
		d.archive = readingsarchive.Start(ctx, db, path, freq.Interval(), log.Printf)
	}
	d.importer.AfterImport = func(importer.Result) {
		d.api.InvalidateReadings()
		if d.archive != nil {
			d.archive.Rebuild()
		}
	}
	d.plots = plotsession.NewServer(db, d.bus, viewport.Config{
		Zoom:   viewport.ZoomLimits{Min: opts.zoomMin, Max: opts.zoomMax},
		Height: opts.plotHeight,
	}, log.Printf)
	return d, nil
}

func (d *dashboard) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS()))))
	mux.HandleFunc("/", d.dashboardPage)
	mux.HandleFunc("/plot", d.plotPage)
	mux.Handle("/upload", d.limiter.Limit(api.RequestHeavy, http.HandlerFunc(d.uploadHandler)))
	mux.Handle("/ws/plot", d.plots)
	mux.Handle("/qrpng", qrshare.Handler(qrshare.Options{}))
	d.api.Register(mux)
	if d.archive != nil {
		mux.Handle(readingsarchive.RoutePath, d.limiter.Limit(api.RequestHeavy, d.archive.Handler()))
	}
	(&viewstore.Handler{Store: d.views, Logf: log.Printf}).Register(mux)
	return withServerHeader(mux)
}

func runServe(opts serveOptions) error {
	ctx, cancel := signalContext()
	defer cancel()

	if opts.domain != "" && runtime.GOOS != "windows" && os.Geteuid() != 0 {
		log.Println("Binding to :80 / :443 requires super-user rights; run with sudo or as root.")
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("DB schema: %w", err)
	}

	views, err := viewstore.Open(ctx, "genji", opts.viewsPath)
	if err != nil {
		return err
	}
	defer views.Close()

	d, err := newDashboard(ctx, db, views, opts)
	if err != nil {
		return err
	}
	defer d.cache.Close()
	handler := d.routes()

	log.Printf("background index build scheduled (engine=%s); pages may be slower until indexes are ready", db.Driver)
	db.EnsureIndexesAsync(ctx, log.Printf)

	if opts.mdns {
		port := opts.port
		if opts.domain != "" {
			port = 443
		}
		if err := lanannounce.Announce(ctx, lanannounce.Options{Port: port}, log.Printf); err != nil {
			log.Printf("[mdns] %v", err)
		}
	}

	if opts.domain != "" {
		go serveWithDomain(opts.domain, handler)
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP server ➜ http://localhost%s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	log.Printf("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// withServerHeader tags every response with the build version and answers
// HEAD / right away so uptime probes stay cheap.
func withServerHeader(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "waterway-dashboard/"+CompileVersion)

		if r.Method == http.MethodHead && r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// serveWithDomain runs :80 for ACME HTTP-01 plus redirects and :443 with
// Let's Encrypt certificates. Once a certificate exists it doubles as the
// fallback for IP and unknown SNI requests. Errors are only logged.
func serveWithDomain(domain string, handler http.Handler) {
	certMgr := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache("certs"),
		HostPolicy: func(ctx context.Context, host string) error {
			if host == domain || host == "www."+domain {
				return nil
			}
			if net.ParseIP(host) != nil {
				return nil
			}
			return errors.New("acme/autocert: host not configured")
		},
	}

	go func() {
		mux80 := http.NewServeMux()
		mux80.Handle("/.well-known/acme-challenge/", certMgr.HTTPHandler(nil))
		mux80.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "https://"+domain+r.URL.RequestURI(), http.StatusMovedPermanently)
		})

		log.Printf("HTTP  server (ACME+redirect) ➜ :80")
		if err := (&http.Server{
			Addr:              ":80",
			Handler:           mux80,
			ReadHeaderTimeout: 10 * time.Second,
		}).ListenAndServe(); err != nil {
			log.Printf("HTTP  server error: %v", err)
		}
	}()

	var fallback atomic.Pointer[tls.Certificate]
	go func() {
		for {
			if c, err := certMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain}); err == nil {
				fallback.Store(c)
				return
			}
			time.Sleep(time.Minute)
		}
	}()

	tlsCfg := certMgr.TLSConfig()
	tlsCfg.MinVersion = tls.VersionTLS12
	tlsCfg.GetCertificate = func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
		c, err := certMgr.GetCertificate(chi)
		if err == nil {
			return c, nil
		}
		if c := fallback.Load(); c != nil {
			return c, nil
		}
		return nil, err
	}

	log.Printf("HTTPS server for %s ➜ :443", domain)
	if err := (&http.Server{
		Addr:              ":443",
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
	}).ListenAndServeTLS("", ""); err != nil {
		log.Printf("HTTPS server error: %v", err)
	}
}
