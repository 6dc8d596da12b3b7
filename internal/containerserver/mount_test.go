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

import "testing"

func TestMountGuardDisabledAlwaysPasses(t *testing.T) {
	g := MountGuard{DevicesRoot: "/does/not/exist", MountCheck: false}
	if err := g.Check("sda"); err != nil {
		t.Fatalf("expected no error with mount checking disabled, got %s", err.Error())
	}
}

func TestMountGuardRejectsUnmountedDrive(t *testing.T) {
	g := MountGuard{DevicesRoot: "/does/not/exist/at/all", MountCheck: true}
	err := g.Check("sda")
	if err == nil {
		t.Fatalf("expected an error for a nonexistent, unmounted path")
	}
	if err.Status != 507 {
		t.Fatalf("expected status 507, got %d", err.Status)
	}
}
