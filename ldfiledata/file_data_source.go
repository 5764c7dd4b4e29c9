// Package ldfiledata allows the SDK client to read feature flag data from a file, for use
// in testing and local development.
//
// To use it, create a file data source with NewFileDataSourceFactory and put it into the
// client configuration as the UpdateProcessorFactory. Files may be in JSON or YAML and may
// contain full flag definitions ("flags"), simplified value-only flags ("flagValues"), and
// segments ("segments").
package ldfiledata

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/ghodss/yaml.v1"

	ld "github.com/gor-st/go-server-sdk"
	"github.com/gor-st/go-server-sdk/ldlog"
)

// ReloaderFactory is a function that starts a mechanism for detecting when files should be
// reloaded, such as the file watcher in the ldfilewatch package. It should call reload()
// whenever a file changes and stop all activity when closeCh is closed.
type ReloaderFactory func(paths []string, loggers ldlog.Loggers, reload func(), closeCh <-chan struct{}) error

// FileDataSourceOption is the interface for optional configuration parameters that can be
// passed to NewFileDataSourceFactory.
type FileDataSourceOption interface {
	apply(opts *fileDataSourceOptions)
}

type fileDataSourceOptions struct {
	paths           []string
	reloaderFactory ReloaderFactory
}

type filePathsOption struct {
	paths []string
}

func (o filePathsOption) apply(opts *fileDataSourceOptions) {
	opts.paths = append(opts.paths, o.paths...)
}

// FilePaths creates an option for NewFileDataSourceFactory, to specify the input data files.
func FilePaths(paths ...string) FileDataSourceOption {
	return filePathsOption{paths: paths}
}

type reloaderOption struct {
	reloaderFactory ReloaderFactory
}

func (o reloaderOption) apply(opts *fileDataSourceOptions) {
	opts.reloaderFactory = o.reloaderFactory
}

// UseReloader creates an option for NewFileDataSourceFactory, to turn on automatic
// reloading of the files when they change. For instance:
//
//	factory := ldfiledata.NewFileDataSourceFactory(
//	    ldfiledata.FilePaths("myfile.json"),
//	    ldfiledata.UseReloader(ldfilewatch.WatchFiles))
func UseReloader(reloaderFactory ReloaderFactory) FileDataSourceOption {
	return reloaderOption{reloaderFactory: reloaderFactory}
}

// NewFileDataSourceFactory returns a function to create a file-based UpdateProcessor, which
// can be put into the UpdateProcessorFactory property of the client configuration.
func NewFileDataSourceFactory(options ...FileDataSourceOption) ld.UpdateProcessorFactory {
	return func(sdkKey string, config ld.Config) (ld.UpdateProcessor, error) {
		return newFileDataSource(config, options...)
	}
}

type fileDataSource struct {
	store         ld.FeatureStore
	options       fileDataSourceOptions
	loggers       ldlog.Loggers
	isInitialized bool
	readyOnce     sync.Once
	closeOnce     sync.Once
	closeCh       chan struct{}
	lock          sync.Mutex
}

func newFileDataSource(config ld.Config, options ...FileDataSourceOption) (*fileDataSource, error) {
	var opts fileDataSourceOptions
	for _, o := range options {
		o.apply(&opts)
	}
	return &fileDataSource{
		store:   config.FeatureStore,
		options: opts,
		loggers: config.Loggers,
		closeCh: make(chan struct{}),
	}, nil
}

func (fs *fileDataSource) Initialized() bool {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	return fs.isInitialized
}

func (fs *fileDataSource) Start(closeWhenReady chan<- struct{}) {
	fs.reload(closeWhenReady)

	// If there is no reloader, then we signal readiness immediately regardless of whether the
	// data load succeeded or failed.
	if fs.options.reloaderFactory == nil {
		fs.signalStartComplete(closeWhenReady)
		return
	}

	// If there is a reloader, and if we haven't yet successfully loaded data, then the
	// readiness signal will happen the first time we do get valid data (in reload).
	err := fs.options.reloaderFactory(fs.options.paths, fs.loggers, func() {
		fs.reload(closeWhenReady)
	}, fs.closeCh)
	if err != nil {
		fs.loggers.Errorf("Unable to start file watcher: %s", err)
		fs.signalStartComplete(closeWhenReady)
	}
}

func (fs *fileDataSource) signalStartComplete(closeWhenReady chan<- struct{}) {
	fs.readyOnce.Do(func() {
		close(closeWhenReady)
	})
}

func (fs *fileDataSource) reload(closeWhenReady chan<- struct{}) {
	filesData := make([]fileData, 0, len(fs.options.paths))
	for _, path := range fs.options.paths {
		data, err := readFile(path)
		if err != nil {
			fs.loggers.Errorf("Unable to load flags from %q: %s", path, err)
			return
		}
		filesData = append(filesData, data)
	}
	storeData, err := mergeFileData(filesData...)
	if err != nil {
		fs.loggers.Error(err)
		return
	}
	if err := fs.store.Init(storeData); err != nil {
		fs.loggers.Errorf("Unable to store flags: %s", err)
		return
	}
	fs.loggers.Infof("Loaded flags from %s", strings.Join(fs.options.paths, ", "))
	fs.lock.Lock()
	fs.isInitialized = true
	fs.lock.Unlock()
	fs.signalStartComplete(closeWhenReady)
}

func (fs *fileDataSource) Close() error {
	fs.closeOnce.Do(func() {
		close(fs.closeCh)
	})
	return nil
}

type fileData struct {
	Flags      map[string]*ld.FeatureFlag `json:"flags"`
	FlagValues map[string]interface{}     `json:"flagValues"`
	Segments   map[string]*ld.Segment     `json:"segments"`
}

func readFile(path string) (fileData, error) {
	var data fileData
	rawData, err := ioutil.ReadFile(filepath.Clean(path))
	if err != nil {
		return data, fmt.Errorf("unable to read file: %s", err)
	}
	// yaml.Unmarshal accepts JSON input as well, since YAML is a superset of JSON.
	if err := yaml.Unmarshal(rawData, &data); err != nil {
		return data, fmt.Errorf("unable to parse file: %s", err)
	}
	return data, nil
}

// makeFlagWithValue produces a flag that always serves one fixed value, for the
// "flagValues" file property.
func makeFlagWithValue(key string, value interface{}) *ld.FeatureFlag {
	zero := 0
	return &ld.FeatureFlag{
		Key:         key,
		On:          true,
		Fallthrough: ld.VariationOrRollout{Variation: &zero},
		Variations:  []interface{}{value},
	}
}

func mergeFileData(allFileData ...fileData) (map[ld.VersionedDataKind]map[string]ld.VersionedData, error) {
	all := map[ld.VersionedDataKind]map[string]ld.VersionedData{
		ld.Features: {},
		ld.Segments: {},
	}
	for _, d := range allFileData {
		for key, f := range d.Flags {
			if err := addItem(all, ld.Features, key, f); err != nil {
				return nil, err
			}
		}
		for key, value := range d.FlagValues {
			if err := addItem(all, ld.Features, key, makeFlagWithValue(key, value)); err != nil {
				return nil, err
			}
		}
		for key, s := range d.Segments {
			if err := addItem(all, ld.Segments, key, s); err != nil {
				return nil, err
			}
		}
	}
	return all, nil
}

func addItem(all map[ld.VersionedDataKind]map[string]ld.VersionedData, kind ld.VersionedDataKind,
	key string, item ld.VersionedData) error {
	if all[kind][key] != nil {
		return fmt.Errorf("%s %q is specified by multiple files", kind.GetNamespace(), key)
	}
	all[kind][key] = item
	return nil
}
