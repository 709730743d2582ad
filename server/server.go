package main

/*
This application serves the runs stored by finechan in a SQL DB: listing,
spectra as JSON and rendered plots.
*/

import (
	"bytes"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"image"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"

	"github.com/hb9tf/finechan/extraction"
	"github.com/hb9tf/finechan/render"

	// Blind import support for sqlite3.
	_ "github.com/mattn/go-sqlite3"
)

var (
	listen   = flag.String("listen", ":8443", "")
	certFile = flag.String("certFile", "", "Path of the file containing the certificate (including the chained intermediates and root) for the TLS connection.")
	keyFile  = flag.String("keyFile", "", "Path of the file containing the key for the TLS connection.")
	input    = flag.String("input", "sqlite", "Storage to read runs from (one of: sqlite, mysql)")

	// SQLite
	sqliteFile = flag.String("sqliteFile", "/tmp/finechan", "File path of the sqlite DB file to use.")

	// MySQL
	mysqlServer       = flag.String("mysqlServer", "127.0.0.1:3306", "MySQL TCP server endpoint to connect to (IP/DNS and port).")
	mysqlUser         = flag.String("mysqlUser", "", "MySQL DB user.")
	mysqlPasswordFile = flag.String("mysqlPasswordFile", "", "Path to the file containing the password for the MySQL user.")
	mysqlDBName       = flag.String("mysqlDBName", "finechan", "Name of the DB to use.")
)

const (
	apiPrefix = "/finechan/v1"

	maxImgWidth  = 4096
	maxImgHeight = 2048
)

type Server struct {
	DB *sql.DB
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	api := r.Group(apiPrefix)
	api.GET("/runs", s.runsHandler)
	api.GET("/runs/:run/spectrum", s.spectrumHandler)
	api.GET("/runs/:run/spectrum.png", s.spectrumImageHandler)
	api.GET("/runs/:run/waterfall.png", s.waterfallImageHandler)
	return r
}

func statusFor(err error) int {
	if errors.Is(err, extraction.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// intQuery returns the integer query parameter key, def when absent.
func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("query parameter %q must be an integer, got %q", key, raw)
	}
	return v, nil
}

func (s *Server) runsHandler(c *gin.Context) {
	runs, err := extraction.GetRuns(c.Request.Context(), s.DB)
	if err != nil {
		glog.Warningf("unable to list runs: %s", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []extraction.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) spectrumHandler(c *gin.Context) {
	round, err := intQuery(c, "round", -1)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	spectra, err := extraction.GetSpectrum(c.Request.Context(), s.DB, c.Param("run"), round)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"spectra": spectra})
}

func (s *Server) spectrumImageHandler(c *gin.Context) {
	round, err := intQuery(c, "round", -1)
	if err != nil {
		c.String(http.StatusBadRequest, "%s", err)
		return
	}
	opts, err := plotOptions(c)
	if err != nil {
		c.String(http.StatusBadRequest, "%s", err)
		return
	}
	spectra, err := extraction.GetSpectrum(c.Request.Context(), s.DB, c.Param("run"), round)
	if err != nil {
		c.String(statusFor(err), "%s", err)
		return
	}

	var series []render.Series
	for _, sp := range spectra {
		series = append(series, render.Series{
			Label:  fmt.Sprintf("chan %d", sp.CoarseChan),
			Values: sp.Values,
		})
	}
	img, err := render.Spectrum(series, opts)
	if err != nil {
		c.String(http.StatusInternalServerError, "%s", err)
		return
	}
	writePNG(c, img)
}

func plotOptions(c *gin.Context) (render.PlotOptions, error) {
	opts := render.PlotOptions{AddGrid: c.Query("grid") != "false", Log: c.Query("log") == "true"}
	var err error
	if opts.Width, err = intQuery(c, "width", render.DefaultWidth); err != nil {
		return opts, err
	}
	if opts.Height, err = intQuery(c, "height", render.DefaultHeight); err != nil {
		return opts, err
	}
	if opts.Width < 1 || opts.Width > maxImgWidth || opts.Height < 1 || opts.Height > maxImgHeight {
		return opts, fmt.Errorf("image size must be within %dx%d", maxImgWidth, maxImgHeight)
	}
	return opts, nil
}

func (s *Server) waterfallImageHandler(c *gin.Context) {
	raw, ok := c.GetQuery("chan")
	if !ok {
		c.String(http.StatusBadRequest, "query parameter \"chan\" is required")
		return
	}
	ch, err := strconv.Atoi(raw)
	if err != nil {
		c.String(http.StatusBadRequest, "invalid channel %q", raw)
		return
	}
	w, err := extraction.GetWaterfall(c.Request.Context(), s.DB, c.Param("run"), ch)
	if err != nil {
		c.String(statusFor(err), "%s", err)
		return
	}

	img, err := render.Heatmap(w.Rows)
	if err != nil {
		c.String(http.StatusInternalServerError, "%s", err)
		return
	}
	if c.Query("grid") != "false" {
		img = render.DrawGrid(img,
			render.Axis{From: 0, To: float64(img.Bounds().Dx() - 1), Format: func(v float64) string { return fmt.Sprintf("%.0f", v) }},
			render.Axis{From: float64(w.Rounds[0]), To: float64(w.Rounds[len(w.Rounds)-1]), Format: func(v float64) string { return fmt.Sprintf("round %.0f", v) }},
		)
	}
	writePNG(c, img)
}

func writePNG(c *gin.Context, img image.Image) {
	var buf bytes.Buffer
	if err := render.Encode(&buf, img, "image.png"); err != nil {
		c.String(http.StatusInternalServerError, "%s", err)
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func openDB() (*sql.DB, error) {
	switch strings.ToLower(*input) {
	case "sqlite":
		db, err := sql.Open("sqlite3", *sqliteFile)
		if err != nil {
			return nil, fmt.Errorf("unable to open sqlite DB %q: %s", *sqliteFile, err)
		}
		return db, nil
	case "mysql":
		pass, err := os.ReadFile(*mysqlPasswordFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read MySQL password file %q: %s", *mysqlPasswordFile, err)
		}
		cfg := mysql.Config{
			User:   *mysqlUser,
			Passwd: strings.TrimSpace(string(pass)),
			Net:    "tcp",
			Addr:   *mysqlServer,
			DBName: *mysqlDBName,
		}
		db, err := sql.Open("mysql", cfg.FormatDSN())
		if err != nil {
			return nil, fmt.Errorf("unable to open MySQL DB %q: %s", *mysqlServer, err)
		}
		db.SetConnMaxLifetime(3 * time.Minute)
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		return db, nil
	default:
		return nil, fmt.Errorf("%q is not a supported input, pick one of: sqlite, mysql", *input)
	}
}

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()
	defer glog.Flush()

	db, err := openDB()
	if err != nil {
		glog.Exit(err)
	}
	defer db.Close()

	gin.SetMode(gin.ReleaseMode)
	s := &Server{DB: db}
	server := &http.Server{
		Addr:    *listen,
		Handler: s.Router(),
	}
	if *certFile != "" || *keyFile != "" {
		glog.Fatal(server.ListenAndServeTLS(*certFile, *keyFile))
	} else {
		glog.Infoln("Resorting to serving HTTP because there was no certificate and key defined.")
		glog.Fatal(server.ListenAndServe())
	}
}
