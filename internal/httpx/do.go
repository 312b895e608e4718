package httpx

import (
	"resty.dev/v3"
)

// Do executes req and returns the response only when it is 2xx. Transport
// failures and other statuses come back as *FetchError tagged with source.
func Do(req *resty.Request, method, url, source string) (*resty.Response, error) {
	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, NewNetworkError(source, err)
	}
	if !resp.IsSuccess() {
		return nil, ClassifyHTTPError(source, resp.StatusCode(), resp.String())
	}
	return resp, nil
}
