// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package watch

// This file contains the implementation of a prometheus test probe that
// reads the metrics resource of a watch daemon so that test cases can
// validate the gauges the daemon is expected to maintain

import (
	"net/http"
	"strings"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

type metricsClient struct {
	url string
}

// NewMetricsClient will instantiate the structure used to communicate with
// a prometheus metrics endpoint
//
func NewMetricsClient(url string) (cli *metricsClient) {
	return &metricsClient{
		url: url,
	}
}

// Fetch will return the family of metrics from prometheus that have the supplied prefix.
//
func (p *metricsClient) Fetch(prefix string) (metrics map[string]*dto.MetricFamily, err kv.Error) {
	metrics = map[string]*dto.MetricFamily{}

	resp, errGo := http.Get(p.url)
	if errGo != nil {
		return metrics, kv.Wrap(errGo).With("URL", p.url).With("stack", stack.Trace().TrimRuntime())
	}
	defer resp.Body.Close()

	parser := expfmt.TextParser{}
	metricFamilies, errGo := parser.TextToMetricFamilies(resp.Body)
	if errGo != nil {
		return metrics, kv.Wrap(errGo).With("URL", p.url).With("stack", stack.Trace().TrimRuntime())
	}
	for k, v := range metricFamilies {
		if len(prefix) == 0 || strings.HasPrefix(k, prefix) {
			metrics[k] = v
		}
	}
	return metrics, nil
}
