// Copyright 2025 Raywall Malheiros de Souza
// Licensed under the Mozilla Public License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	https://www.mozilla.org/en-US/MPL/2.0/
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package envloader loads environment variables into struct fields using the
// `env` and `envDefault` tags.
//
// Supported field types are string, the integer and float kinds, bool,
// time.Duration and []string (comma separated). Nested structs and pointers
// to structs are walked recursively.
//
// Defaults only apply to zero-valued fields, so the loader can run after a
// YAML decode and only override what the environment actually sets:
//
//	type Config struct {
//		Port    string        `env:"PORT" envDefault:"8080"`
//		Timeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"15s"`
//		Admins  []string      `env:"ADMIN_USER_IDS"`
//	}
//
//	var cfg Config
//	if err := envloader.Load(&cfg); err != nil {
//		log.Fatal(err)
//	}
package envloader
