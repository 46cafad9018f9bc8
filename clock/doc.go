/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package clock implements Khronos's Program Clock: a monotonic-anchored
virtual wall clock, maintained entirely in user space.

A Virtual clock is a (base UTC instant, monotonic anchor) pair published as
one immutable snapshot. Reads compute "now" from the snapshot and the
process-wide monotonic Source without taking a lock. The Discipline Loop is
the sole writer; it replaces the snapshot wholesale on every correction so
readers never observe a torn (base, anchor) pair.

Unlike facebook-time's clock package, which issues CLOCK_ADJTIME syscalls to
discipline the kernel's own clock, Virtual never touches the OS clock --
Khronos is explicitly a user-space virtual clock only.
*/
package clock
