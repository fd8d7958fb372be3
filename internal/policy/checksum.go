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

package policy

import (
	"hash/crc32"
)

// checksumIamRoleBinding computes a stable CRC32 over the fields that
// define an IAM role binding's intended state, used by the provisioning
// adapters' reconciliation pass to detect drift against what is actually
// bound on the cloud resource.
func checksumIamRoleBinding(b IamRoleBinding) uint32 {
	data := b.Resource + "\x00" + b.Role + "\x00" + b.Condition + "\x00" + b.Description
	return crc32.ChecksumIEEE([]byte(data))
}
