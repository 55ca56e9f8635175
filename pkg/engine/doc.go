/*
Package engine orchestrates the structural patch pipeline for source units.

	+-----------+     +-----------+     +-----------+
	|  Scanner  | --> |  Balance  | --> |  Repair   |
	| (classify)|     |  (match)  |     |  (plan)   |
	+-----------+     +-----------+     +-----------+
	       \                |                /
	        \         +-----------+        /
	         +------> |  Engine   | <-----+
	                  | (pipeline)|
	                  +-----+-----+
	                        |
	            +-----------+-----------+
	            |                       |
	       +---------+            +----------+
	       |  Rules  |            |  Backup  |
	       +---------+            +----------+

🎯 Purpose:
- Drives each unit through snapshot → analyze → rewrite → verify
- Owns the per-run state machine and its terminal commit/rollback decision
- Runs independent units in parallel with a bounded worker pool

🔄 Flow:
1. Snapshot the unit's bytes (the version is the run's ownership token)
2. Analyze delimiter balance and record the initial counts
3. Apply the ordered rule set, then one repair action if still imbalanced
4. Re-analyze; commit the write-back only on a clean final report
5. Otherwise restore the snapshot and surface every diagnostic

📝 Design Philosophy:
The engine is the only component that touches persisted state. Scanning,
matching, planning, and rewriting are pure functions over bytes; keeping
all I/O here means a failed run can always be unwound from its snapshot,
and the lower packages stay trivially testable.
*/
package engine
