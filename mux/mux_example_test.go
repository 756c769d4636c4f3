// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package mux

import (
	"context"
	"fmt"
	"net/http"

	"github.com/z5labs/oneshot/service"
)

func namedService(name string) service.Service {
	return service.New(service.Sync(func(context.Context, service.Empty) (string, error) {
		return name, nil
	}))
}

func ExampleTable_Resolve() {
	table := New()
	table.Handle(http.MethodGet, Exact("/"), namedService("root"))
	table.Handle(http.MethodGet, Prefix("/static/"), namedService("static"))
	table.Handle(http.MethodGet, Prefix("/static/img/"), namedService("images"))
	table.Build()

	for _, path := range []string{"/", "/static/app.js", "/static/img/logo.png", "/missing"} {
		svc, ok := table.Resolve(http.MethodGet, path)
		if !ok {
			fmt.Println(path, "not found")
			continue
		}
		resp, _ := svc.Call(context.Background(), &service.Request{Method: http.MethodGet})
		fmt.Println(path, string(resp.Body))
	}
	// Output: / {"status":"ok","result":"root"}
	// /static/app.js {"status":"ok","result":"static"}
	// /static/img/logo.png {"status":"ok","result":"images"}
	// /missing not found
}
