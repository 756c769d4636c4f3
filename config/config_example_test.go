// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"fmt"
	"strings"
	"time"
)

func ExampleRead() {
	yaml := strings.NewReader(`
http:
  addr: ":8080"
  idle_timeout: 2m
`)
	env := FromEnv(
		Prefix("ONESHOT_"),
		Environ(func() []string {
			return []string{"ONESHOT_HTTP_ADDR=:9090", "HOME=/root"}
		}),
	)

	m, err := Read(FromYaml(yaml), env)
	if err != nil {
		fmt.Println(err)
		return
	}

	var cfg struct {
		HTTP struct {
			Addr        string        `config:"addr"`
			IdleTimeout time.Duration `config:"idle_timeout"`
		} `config:"http"`
	}
	err = m.Unmarshal(&cfg)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(cfg.HTTP.Addr, cfg.HTTP.IdleTimeout)
	// Output: :9090 2m0s
}
