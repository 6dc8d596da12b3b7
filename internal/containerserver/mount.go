/*******************************************************************************
*
* Copyright 2018-2020 SAP SE
*
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You should have received a copy of the License along with this
* program. If not, you may obtain a copy of the License at
*
*     http://www.apache.org/licenses/LICENSE-2.0
*
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
*
*******************************************************************************/

package containerserver

import (
	"fmt"
	"path/filepath"

	"github.com/moby/sys/mountinfo"
)

// MountGuard verifies that a drive directory is actually a mount point
// before any DB access is attempted on it, the same precaution
// ContainerController.__call__ performs via check_mount(self.root, drive)
// before dispatching to a method handler. When MountCheck is disabled in
// configuration, every drive is treated as mounted.
type MountGuard struct {
	DevicesRoot string
	MountCheck  bool
}

// Check returns ErrInsufficientStorage (507) if the given drive is not
// mounted under DevicesRoot and mount checking is enabled.
func (g MountGuard) Check(drive string) *APIError {
	if !g.MountCheck {
		return nil
	}
	path := filepath.Join(g.DevicesRoot, drive)
	mounted, err := mountinfo.Mounted(path)
	if err != nil || !mounted {
		return ErrInsufficientStorage.With(fmt.Sprintf("%s is not mounted", drive))
	}
	return nil
}
