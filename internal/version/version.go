// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package version holds build-time version metadata, overridden via
// -ldflags at release build time.
package version

import "fmt"

var (
	// Name is the binary's name, shown in CLI help output.
	Name = "jitctl"

	// Version is the semantic version, set by the release build.
	Version = "source"

	// Commit is the git commit the binary was built from.
	Commit = "unknown"
)

// HumanVersion is the version string rendered by `jitctl -version`.
var HumanVersion = fmt.Sprintf("%s %s (%s)", Name, Version, Commit)
