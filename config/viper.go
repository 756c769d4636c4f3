// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import "github.com/spf13/viper"

// FromViper applies every setting known to v, including flags bound
// with [viper.Viper.BindPFlag]. Keys are nested on their dots.
func FromViper(v *viper.Viper) Source {
	return SourceFunc(func(store Store) error {
		return Map(v.AllSettings()).Apply(store)
	})
}
