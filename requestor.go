package ldclient

import (
	"encoding/json"
	"io/ioutil"
	"net/http"

	"github.com/gregjones/httpcache"
)

// LatestAllPath is the path of the LaunchDarkly polling endpoint.
const LatestAllPath = "/sdk/latest-all"

type requestor struct {
	sdkKey     string
	httpClient *http.Client
	config     Config
}

func newRequestor(sdkKey string, config Config, httpClient *http.Client) *requestor {
	baseTransport := http.DefaultTransport
	if httpClient != nil && httpClient.Transport != nil {
		baseTransport = httpClient.Transport
	}

	// The httpcache transport lets the server tell us with a 304 that nothing has changed,
	// so unchanged data never has to be re-parsed or re-stored.
	cachingTransport := &httpcache.Transport{
		Cache:               httpcache.NewMemoryCache(),
		MarkCachedResponses: true,
		Transport:           baseTransport,
	}

	return &requestor{
		sdkKey:     sdkKey,
		httpClient: &http.Client{Transport: cachingTransport, Timeout: config.Timeout},
		config:     config,
	}
}

func (r *requestor) requestAll() (allData, bool, error) {
	var data allData
	body, cached, err := r.makeRequest(LatestAllPath)
	if err != nil {
		return allData{}, false, err
	}
	if cached {
		return allData{}, true, nil
	}
	if jsonErr := json.Unmarshal(body, &data); jsonErr != nil {
		return allData{}, false, jsonErr
	}
	return data, cached, nil
}

func (r *requestor) makeRequest(resource string) ([]byte, bool, error) {
	req, reqErr := http.NewRequest("GET", r.config.BaseUri+resource, nil)
	if reqErr != nil {
		return nil, false, reqErr
	}
	url := req.URL.String()

	req.Header.Add("Authorization", r.sdkKey)
	req.Header.Add("User-Agent", r.config.UserAgent)

	res, resErr := r.httpClient.Do(req)

	defer func() {
		if res != nil && res.Body != nil {
			_, _ = ioutil.ReadAll(res.Body)
			_ = res.Body.Close()
		}
	}()

	if resErr != nil {
		return nil, false, resErr
	}

	if err := checkStatusCode(res.StatusCode, url); err != nil {
		return nil, false, err
	}

	cached := res.Header.Get(httpcache.XFromCache) != ""

	body, ioErr := ioutil.ReadAll(res.Body)
	if ioErr != nil {
		return nil, false, ioErr
	}
	return body, cached, nil
}
