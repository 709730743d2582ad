package export

import (
	"context"

	"cloud.google.com/go/datastore"
	"github.com/golang/glog"
)

const (
	datastoreKind            = "FineSpectrum"
	datastoreSampleCountInfo = 1000
)

// EntityStore is the part of *datastore.Client used by DataStore.
type EntityStore interface {
	Put(ctx context.Context, key *datastore.Key, src interface{}) (*datastore.Key, error)
	Close() error
}

// DataStore stores one entity per channel and round, keyed like the Elastic
// documents so a repeated export overwrites instead of duplicating.
type DataStore struct {
	Client EntityStore
}

func (d *DataStore) Write(ctx context.Context, spectra []Spectrum) error {
	c := newCounts()
	for i := range spectra {
		s := &spectra[i]
		c["total"] += 1
		k := datastore.NameKey(datastoreKind, getDocID(*s), nil)
		if _, err := d.Client.Put(ctx, k, s); err != nil {
			c["error"] += 1
			glog.Warningf("error storing in datastore: %s\n", err)
			continue
		}
		c["success"] += 1
		if c["total"]%datastoreSampleCountInfo == 0 {
			glog.Infof("Spectrum export counts: %+v\n", c)
		}
	}
	glog.V(1).Infof("Spectrum export counts: %+v\n", c)
	return nil
}

func (d *DataStore) Close() error {
	return d.Client.Close()
}
