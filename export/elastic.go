package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	elasticsearch "github.com/elastic/go-elasticsearch/v7"
	esapi "github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/golang/glog"
)

const (
	esIndexName       = "finechan"
	esSampleCountInfo = 1000
)

type Elastic struct {
	Client *elasticsearch.Client

	connected bool
}

func getDocID(s Spectrum) string {
	return fmt.Sprintf("%s::%d::%d", s.Run, s.CoarseChan, s.Round)
}

func (e *Elastic) Write(ctx context.Context, spectra []Spectrum) error {
	if !e.connected {
		// Information gathering.
		res, err := e.Client.Info(e.Client.Info.WithContext(ctx))
		if err != nil {
			return err
		}
		body, err := io.ReadAll(res.Body)
		res.Body.Close()
		if err != nil {
			return err
		}
		glog.Infof("using Elastic client version %s and connected to server: %s", elasticsearch.Version, body)
		e.connected = true
	}

	c := newCounts()
	for _, s := range spectra {
		c["total"] += 1
		b, err := json.Marshal(s)
		if err != nil {
			c["error"] += 1
			glog.Warningf("error marshalling spectrum: %s\n", err)
			continue
		}
		req := esapi.IndexRequest{
			Index:      esIndexName,
			DocumentID: getDocID(s),
			Body:       bytes.NewReader(b),
			Refresh:    "true",
		}
		res, err := req.Do(ctx, e.Client)
		if err != nil {
			c["error"] += 1
			glog.Warningf("error exporting spectrum: %s\n", err)
			continue
		}
		if res.IsError() {
			c["error"] += 1
			glog.Warningf("error exporting spectrum %s: %s\n", getDocID(s), res.Status())
			res.Body.Close()
			continue
		}
		res.Body.Close()

		c["success"] += 1
		if c["total"]%esSampleCountInfo == 0 {
			glog.Infof("Spectrum export counts: %+v\n", c)
		}
	}
	glog.V(1).Infof("Spectrum export counts: %+v\n", c)
	return nil
}

func (e *Elastic) Close() error {
	return nil
}
