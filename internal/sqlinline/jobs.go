package sqlinline

// jobColumns lists the columns scanned into domain.Job, in order.
const jobColumns = `id, owner_id, category, parameters, payload, cost, status, retry_count, max_retries,
       failure_reason, failure_detail, refunded, queue_ref, created_at, updated_at`

const QJobInsert = `--sql 184b3561-2ca2-428d-973c-be62fa45a55f
insert into jobs (id, owner_id, category, parameters, payload, cost, status, retry_count, max_retries)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
returning created_at, updated_at;
`

const QJobGet = `--sql 5b549476-f3e6-45ba-89d9-65bde140f226
select ` + jobColumns + `
from jobs
where id = $1;
`

const QJobDelete = `--sql 948a54e4-fb31-4f89-931d-c8cf145f64c0
delete from jobs
where id = $1;
`

const QJobSetQueueRef = `--sql 416a96ec-ca2c-43fe-a10f-5829c111fd99
update jobs
set queue_ref = $2,
    updated_at = now()
where id = $1;
`

// QJobTransition is the status compare-and-set. $4 = '' keeps the previous
// failure reason and detail.
const QJobTransition = `--sql 1e731908-b3ed-44a5-92d4-029bb1d0317e
update jobs
set status = $3,
    failure_reason = case when $4::text <> '' then $4::text else failure_reason end,
    failure_detail = case when $4::text <> '' then $5::text else failure_detail end,
    updated_at = now()
where id = $1
  and status = any($2::text[])
returning ` + jobColumns + `;
`

const QJobBeginRetry = `--sql ad479613-554d-4a35-98fd-701c3e04054b
update jobs
set status = 'pending',
    retry_count = retry_count + 1,
    updated_at = now()
where id = $1
  and status = 'failed'
  and retry_count < max_retries
returning ` + jobColumns + `;
`

const QJobMarkRefunded = `--sql 11573595-c0f8-447d-bfd5-db9726d99e1e
update jobs
set refunded = true,
    updated_at = now()
where id = $1
  and not refunded
returning id;
`

const QJobExists = `--sql 9b90935e-2a6e-4249-af41-67f5bc8bacf9
select exists (select 1 from jobs where id = $1);
`

const QJobListByOwner = `--sql 88d30e99-3f69-4254-a57c-3656af7b0f5c
select ` + jobColumns + `
from jobs
where owner_id = $1
order by created_at desc
limit $2;
`
